package main

import (
	"fmt"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/imgfetch"
)

func newGetCmd(root *rootOptions) *cobra.Command {
	var (
		bucket   string
		output   string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "get <url|path>",
		Short: "Fetch an image through the cache and print its dimensions",
		Example: `  imgfetch get https://example.com/cat.png
  IMGFETCH_STORAGE=s3 imgfetch get --bucket images cats/a.png -o a.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			src, err := descriptor(args[0], bucket)
			if err != nil {
				return err
			}
			f, err := root.fetcher(ctx, imgfetch.WithSyncCacheWrites())
			if err != nil {
				return err
			}

			var onProgress imgfetch.ProgressFunc
			if progress {
				onProgress = func(done, total uint64) {
					if total > 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d bytes (%d%%)", done, total, done*100/total)
					} else {
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%d bytes", done)
					}
				}
			}
			img, err := f.Fetch(ctx, src, onProgress)
			if progress {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}

			b := img.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%dx%d\t%d bytes\n", src, img.Format, b.Dx(), b.Dy(), img.Size)

			if output == "" {
				return nil
			}
			out, err := os.Create(output)
			if err != nil {
				return err
			}
			defer closeFile(out, &err)
			return png.Encode(out, img.Image)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "treat the argument as an object path in this bucket or repository")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the decoded image as PNG")
	cmd.Flags().BoolVar(&progress, "progress", false, "report download progress on stderr")
	return cmd
}
