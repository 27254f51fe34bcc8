// Package runner orchestrates a streamfire run.
//
// A run launches a number of attachments one after another. Each attachment
// is a rate-paced producer writing deterministic content into a spool file
// while an upload session streams that file into a bucket:
//
//	r := runner.New(runner.Options{
//		Attachments:     4,
//		SizeMin:         100,
//		SizeMax:         100000,
//		DurationMin:     10,
//		DurationMax:     30,
//		SleepMin:        1,
//		SleepMax:        3,
//		FailIndexes:     []int{1},
//		ForgetIndexes:   []int{2},
//		ProducerThreads: 2,
//		Uploader:        uploader,
//	})
//	report, err := r.Run(ctx)
//
// # Parameters
//
// Every parameter of every attachment comes from one random source seeded
// with [Options.Seed] and drawn strictly in index order on the orchestrating
// goroutine: the stagger sleep (never for index 0), size, production time,
// fail offset (only for indexes listed in FailIndexes) and the content seed.
// The same seed and options produce byte-identical files.
//
// # Outcomes
//
// A producer that completes has its upload completed, unless the index is in
// ForgetIndexes, in which case neither complete nor cancel is called. A
// producer that fails has its upload cancelled with the failure as cause.
// Failures never abort the run: they are recorded per attachment in the
// [Report] and only invalid options make Run return an error.
package runner
