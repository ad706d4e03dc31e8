// Package pipeline runs tile jobs through fetch, unpack, convert and publish.
//
// An Orchestrator owns a fixed pool of workers. Each worker takes one job at
// a time and drives it through the stages its Mode asks for:
//
//	pending -> fetching -> unpacking -> converting -> publishing -> done
//
// A failing stage ends the job; other jobs are unaffected. Intermediate files
// (the archive and the unpacked payload) are removed once the final artifact
// exists or the job has failed.
//
// # Usage
//
//	orch := pipeline.New(pipeline.Options{
//	    Target:  "/data/srtm",
//	    Policy:  source.PolicyFor(source.SRTM),
//	    Mode:    pipeline.ConvertEllipsoidal,
//	    Workers: 4,
//	}, pipeline.Stages{
//	    Fetcher:   client,
//	    Unpacker:  &archive.Unpacker{},
//	    Converter: raster.NewConverter(logger),
//	})
//	batch, err := orch.Run(ctx, links)
//	summary := batch.Wait()
//
// # Resume
//
// With SkipExisting set, the ellipsoidal outputs already present are listed
// before dispatch and their tiles are left out of the batch.
//
// # Cancellation
//
// Cancelling the context stops jobs at the next stage boundary. A download in
// flight runs to completion or until StageTimeout expires.
package pipeline
