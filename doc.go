// Package imgfetch fetches remote images through a local byte cache.
//
// A [Fetcher] takes a descriptor, either a [URL] or a [StorageReference],
// and returns the decoded [Image]. The byte cache is consulted first; on a
// miss the bytes are downloaded, decoded and written back. Corrupt cache
// entries are dropped and downloaded again.
//
// # Quick Start
//
// Fetch an image with an explicit fetcher:
//
//	f, err := imgfetch.New(imgfetch.WithCache(diskCache))
//	if err != nil {
//	    return err
//	}
//	img, err := f.Fetch(ctx, imgfetch.StorageReference{Bucket: "bucket", Path: "a.png"}, nil)
//
// Or rely on the process-wide default, configured from IMGFETCH_*
// environment variables:
//
//	u, _ := imgfetch.ParseURL("https://example.com/a.png")
//	img, err := imgfetch.Fetch(ctx, u, nil)
//
// # Binding
//
// A [Slot] is a long-lived display target such as a reused list cell.
// [Fetcher.Bind] points it at a new source; results of earlier binds that
// are still in flight are discarded on delivery and their downloads are
// canceled:
//
//	slot := imgfetch.NewSlot(imgfetch.WithView(cell))
//	f.Bind(ctx, slot, u,
//	    imgfetch.WithPlaceholder(spinner),
//	    imgfetch.WithCompletion(func(img *imgfetch.Image) { ... }),
//	)
//
// Callbacks are delivered through an [Executor]. Use a [Queue] drained by
// the UI goroutine to keep all slot updates on one goroutine.
//
// # Errors
//
// Fetch reports failures as errors matching [ErrSourceUnavailable],
// [ErrDecode] or [ErrEmptySource]. Callback APIs collapse every failure to a
// nil image. Cache read and decode failures are logged and never surface.
package imgfetch
