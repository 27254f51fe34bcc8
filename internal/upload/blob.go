package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// Compression selects the content encoding of stored objects.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

const defaultPollInterval = 20 * time.Millisecond

// BlobOptions configure a BlobUploader.
type BlobOptions struct {
	Prefix       string        // key prefix, e.g. "runs/<run-id>/"
	Compression  Compression   // none (default) or zstd
	PollInterval time.Duration // how often a drained tail re-checks the file
	Logger       *log.Entry
}

// BlobUploader streams growing files into a blob bucket. Each session tails
// its file while the producer writes it; Complete drains the remainder and
// publishes the object, Cancel aborts the write so no object is created.
type BlobUploader struct {
	bucket *blob.Bucket
	opts   BlobOptions
	log    *log.Entry

	mu       sync.Mutex
	sessions map[string]*blobSession
	closed   bool
}

// OpenBlobUploader opens the bucket at url (mem://, file:///dir, gs://, s3://).
func OpenBlobUploader(ctx context.Context, url string, opts BlobOptions) (*BlobUploader, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return NewBlobUploader(bucket, opts), nil
}

// NewBlobUploader wraps an open bucket. The uploader owns the bucket.
func NewBlobUploader(bucket *blob.Bucket, opts BlobOptions) *BlobUploader {
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "upload")
	}
	return &BlobUploader{
		bucket:   bucket,
		opts:     opts,
		log:      logger,
		sessions: make(map[string]*blobSession),
	}
}

// Bucket exposes the underlying bucket, mainly for inspection.
func (u *BlobUploader) Bucket() *blob.Bucket {
	return u.bucket
}

type blobSession struct {
	id   string
	meta Metadata
	key  string

	src    *os.File
	cancel context.CancelFunc
	ctx    context.Context

	finishOnce sync.Once
	finish     chan struct{}
	done       chan struct{}

	// Written by the tail goroutine before done is closed.
	size   int64
	stored int64
	err    error
}

func (s *blobSession) ID() string         { return s.id }
func (s *blobSession) Metadata() Metadata { return s.meta }

// Start opens the file at path for reading and begins streaming it.
func (u *BlobUploader) Start(ctx context.Context, path string, meta Metadata) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if meta.MimeType == "" {
		meta.MimeType = DefaultMimeType
	}
	if meta.Filename == "" {
		return nil, errors.New("upload: filename is required")
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, ErrClosed
	}

	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("upload: open %s: %w", path, err)
	}

	id := ulid.Make().String()
	key := u.opts.Prefix + meta.Filename
	wctx, cancel := context.WithCancel(context.Background())

	md := make(map[string]string, len(meta.Labels)+2)
	for k, v := range meta.Labels {
		md[strings.ToLower(k)] = v
	}
	md["session"] = id
	md["attachment"] = strconv.Itoa(meta.Attachment)
	wopts := &blob.WriterOptions{
		ContentType: meta.MimeType,
		Metadata:    md,
	}
	if u.opts.Compression == CompressionZstd {
		wopts.ContentEncoding = string(CompressionZstd)
	}
	w, err := u.bucket.NewWriter(wctx, key, wopts)
	if err != nil {
		cancel()
		src.Close()
		return nil, fmt.Errorf("upload: create writer for %s: %w", key, err)
	}

	s := &blobSession{
		id:     id,
		meta:   meta,
		key:    key,
		src:    src,
		ctx:    wctx,
		cancel: cancel,
		finish: make(chan struct{}),
		done:   make(chan struct{}),
	}
	u.sessions[id] = s
	go u.tail(s, w)

	u.log.WithFields(log.Fields{"session": id, "key": key, "mime_type": meta.MimeType}).Info("upload started")
	return s, nil
}

// Complete drains the session's file and publishes the object.
func (u *BlobUploader) Complete(ctx context.Context, sess Session) (Result, error) {
	s, err := u.take(sess)
	if err != nil {
		return Result{}, err
	}
	s.finishOnce.Do(func() { close(s.finish) })

	select {
	case <-s.done:
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return Result{}, ctx.Err()
	}
	if s.err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", s.key, s.err)
	}

	res := Result{
		SessionID:   s.id,
		Key:         s.key,
		Size:        s.size,
		StoredSize:  s.stored,
		ContentType: s.meta.MimeType,
	}
	if u.opts.Compression == CompressionZstd {
		res.ContentEncoding = string(CompressionZstd)
	}
	u.log.WithFields(log.Fields{"session": s.id, "key": s.key, "size": s.size}).Info("upload completed")
	return res, nil
}

// Cancel aborts the session. No object is published.
func (u *BlobUploader) Cancel(ctx context.Context, sess Session, cause error) error {
	s, err := u.take(sess)
	if err != nil {
		return err
	}
	u.abort(s)
	entry := u.log.WithField("session", s.id)
	if cause != nil {
		entry = entry.WithField("cause", cause.Error())
	}
	entry.Warn("upload cancelled")
	return nil
}

// Open reports how many sessions are neither completed nor cancelled.
func (u *BlobUploader) Open() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sessions)
}

// Close abandons sessions that were never completed or cancelled and closes
// the bucket.
func (u *BlobUploader) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	leftover := make([]*blobSession, 0, len(u.sessions))
	for id, s := range u.sessions {
		leftover = append(leftover, s)
		delete(u.sessions, id)
	}
	u.mu.Unlock()

	for _, s := range leftover {
		u.log.WithFields(log.Fields{"session": s.id, "key": s.key}).Warn("abandoning upload that was never completed")
		u.abort(s)
	}
	return u.bucket.Close()
}

func (u *BlobUploader) take(sess Session) (*blobSession, error) {
	if sess == nil {
		return nil, ErrUnknownSession
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.sessions[sess.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sess.ID())
	}
	delete(u.sessions, s.id)
	return s, nil
}

func (u *BlobUploader) abort(s *blobSession) {
	s.cancel()
	<-s.done
}

// countingWriter counts bytes handed to the bucket writer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// tail copies the file into w as it grows. After finish is closed it reads
// to EOF once more and closes the writer; if the session context is
// cancelled the write is aborted instead.
func (u *BlobUploader) tail(s *blobSession, w *blob.Writer) {
	defer close(s.done)
	defer s.src.Close()

	counter := &countingWriter{w: w}
	var dst io.Writer = counter
	var enc *zstd.Encoder
	if u.opts.Compression == CompressionZstd {
		var err error
		enc, err = zstd.NewWriter(counter)
		if err != nil {
			s.cancel()
			_ = w.Close()
			s.err = fmt.Errorf("create zstd encoder: %w", err)
			return
		}
		dst = enc
	}

	abort := func(err error) {
		s.cancel()
		if enc != nil {
			enc.Close()
		}
		_ = w.Close()
		s.err = err
	}

	buf := make([]byte, 32*1024)
	finishing := false
	for {
		n, err := s.src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				abort(fmt.Errorf("write: %w", werr))
				return
			}
			s.size += int64(n)
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			abort(fmt.Errorf("read: %w", err))
			return
		}
		if finishing {
			break
		}
		select {
		case <-s.ctx.Done():
			abort(context.Canceled)
			return
		case <-s.finish:
			finishing = true
		case <-time.After(u.opts.PollInterval):
		}
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			abort(fmt.Errorf("flush zstd: %w", err))
			return
		}
	}
	if err := w.Close(); err != nil {
		s.err = fmt.Errorf("close writer: %w", err)
		return
	}
	s.stored = counter.n
}
