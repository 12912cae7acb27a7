package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/imgfetch"
)

func newWarmCmd(root *rootOptions) *cobra.Command {
	var (
		bucket      string
		from        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "warm [url|path...]",
		Short: "Download images into the cache without decoding them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if from != "" {
				lines, err := readLines(cmd.InOrStdin(), from)
				if err != nil {
					return err
				}
				args = append(args, lines...)
			}
			if len(args) == 0 {
				return errors.New("nothing to warm")
			}

			srcs := make([]imgfetch.Descriptor, 0, len(args))
			for _, arg := range args {
				src, err := descriptor(arg, bucket)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				srcs = append(srcs, src)
			}

			f, err := root.fetcher(ctx, imgfetch.WithPrewarmConcurrency(concurrency))
			if err != nil {
				return err
			}
			if err := f.PreWarm(ctx, srcs...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "warmed %d images\n", len(srcs))
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "treat arguments as object paths in this bucket or repository")
	cmd.Flags().StringVar(&from, "from", "", "read one source per line from a file (- for stdin)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", imgfetch.DefaultPrewarmConcurrency, "parallel downloads")
	return cmd
}

// readLines returns the non-blank, non-comment lines of path, or of stdin
// when path is "-".
func readLines(stdin io.Reader, path string) (lines []string, err error) {
	r := stdin
	if path != "-" {
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer closeFile(f, &err)
		r = f
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
