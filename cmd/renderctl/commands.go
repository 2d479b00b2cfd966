package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mediarender/internal/client"
	v1 "mediarender/internal/contracts/render/v1"
)

func newRenderCommand(ctx *cliContext) *cobra.Command {
	var flags requestFlags
	var output string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render synchronously and save the artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.build(cmd.InOrStdin())
			if err != nil {
				return err
			}
			c := ctx.client()
			return saveArtifact(cmd, output, func(w io.Writer) (client.ArtifactInfo, error) {
				return c.Render(cmd.Context(), req, w)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (server filename when empty, - for stdout)")
	return cmd
}

func newSubmitCommand(ctx *cliContext) *cobra.Command {
	var flags requestFlags
	var watch bool
	var output string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start an asynchronous render",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.build(cmd.InOrStdin())
			if err != nil {
				return err
			}
			c := ctx.client()
			job, err := c.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !watch {
				if ctx.jsonOutput {
					return writeJSON(cmd, job)
				}
				fmt.Fprintln(cmd.OutOrStdout(), job.ID)
				return nil
			}

			final, err := followJob(cmd, c, job.ID)
			if err != nil {
				return err
			}
			if final.Status != v1.JobSucceeded {
				return jobFailure(final)
			}
			return saveArtifact(cmd, output, func(w io.Writer) (client.ArtifactInfo, error) {
				return c.Download(cmd.Context(), job.ID, w)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress and download the artifact when done")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file for --watch")
	return cmd
}

func newStatusCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.client().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, job)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(jobHeaders, jobRows([]v1.Job{job}, time.Now(), isTerminal(out)), jobAligns))
			if job.Error != nil {
				fmt.Fprintf(out, "%s: %s\n", job.Error.Kind, job.Error.Message)
			}
			return nil
		},
	}
}

func newWatchCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			final, err := followJob(cmd, ctx.client(), args[0])
			if err != nil {
				return err
			}
			if final.Status != v1.JobSucceeded {
				return jobFailure(final)
			}
			return nil
		},
	}
}

func newDownloadCommand(ctx *cliContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download a finished job's artifact (once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctx.client()
			return saveArtifact(cmd, output, func(w io.Writer) (client.ArtifactInfo, error) {
				return c.Download(cmd.Context(), args[0], w)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (server filename when empty, - for stdout)")
	return cmd
}

func newCancelCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job or discard a finished one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if job == nil {
				fmt.Fprintf(out, "%s discarded\n", args[0])
				return nil
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(out, "%s %s\n", job.ID, job.Status)
			return nil
		},
	}
}

func newJobsCommand(ctx *cliContext) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := ctx.client().Jobs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, list)
			}
			out := cmd.OutOrStdout()
			if list.Count == 0 {
				fmt.Fprintln(out, "no jobs")
				return nil
			}
			fmt.Fprintln(out, renderTable(jobHeaders, jobRows(list.Jobs, time.Now(), isTerminal(out)), jobAligns))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs")
	return cmd
}

func newFontsCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fonts",
		Short: "List installed font families",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fonts, err := ctx.client().Fonts(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, fonts)
			}
			rows := make([][]string, 0, len(fonts.Families))
			for _, f := range fonts.Families {
				mark := ""
				if strings.EqualFold(f, fonts.Default) {
					mark = "default"
				}
				rows = append(rows, []string{f, mark})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"FAMILY", ""}, rows, nil))
			return nil
		},
	}
}

func newHealthCommand(ctx *cliContext) *cobra.Command {
	var deep bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the server, its renderer binaries and job store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctx.client()
			var (
				health  v1.Health
				formats v1.FormatList
			)
			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() (err error) {
				health, err = c.Health(gctx, deep)
				return err
			})
			g.Go(func() (err error) {
				formats, err = c.Formats(gctx)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			if ctx.jsonOutput {
				return writeJSON(cmd, struct {
					Health  v1.Health     `json:"health"`
					Formats v1.FormatList `json:"formats"`
				}{health, formats})
			}
			return printHealth(cmd.OutOrStdout(), health, formats)
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "Also check binaries, fonts and the job store")
	return cmd
}

func printHealth(out io.Writer, h v1.Health, formats v1.FormatList) error {
	fmt.Fprintf(out, "status:  %s\n", h.Status)
	if h.Pool != nil {
		fmt.Fprintf(out, "pool:    %d running, %d queued, capacity %d (%d workers)\n",
			h.Pool.Running, h.Pool.Queued, h.Pool.Capacity, h.Pool.Workers)
	}
	names := make([]string, 0, len(formats.Formats))
	for _, f := range formats.Formats {
		names = append(names, f.Name)
	}
	fmt.Fprintf(out, "formats: %s\n", strings.Join(names, ", "))
	if h.Fonts > 0 {
		fmt.Fprintf(out, "fonts:   %d families\n", h.Fonts)
	}
	if len(h.Checks) > 0 {
		rows := make([][]string, 0, len(h.Checks))
		for _, name := range []string{"ffmpeg", "ffprobe", "fonts", "job_store"} {
			if v, ok := h.Checks[name]; ok {
				rows = append(rows, []string{name, v})
			}
		}
		fmt.Fprintln(out, renderTable([]string{"CHECK", "RESULT"}, rows, nil))
	}
	if h.Status != "ok" {
		return fmt.Errorf("server is %s", h.Status)
	}
	return nil
}

func followJob(cmd *cobra.Command, c *client.Client, id string) (v1.Job, error) {
	p := newProgressPrinter(cmd.ErrOrStderr())
	defer p.done()
	return c.Watch(cmd.Context(), id, p.update)
}

func jobFailure(j v1.Job) error {
	if j.Error != nil {
		return fmt.Errorf("job %s %s: %s", j.ID, j.Status, j.Error.Message)
	}
	return fmt.Errorf("job %s %s", j.ID, j.Status)
}

// saveArtifact streams into a temporary file next to the destination and
// renames it once complete.
func saveArtifact(cmd *cobra.Command, output string, fetch func(io.Writer) (client.ArtifactInfo, error)) error {
	if output == "-" {
		_, err := fetch(cmd.OutOrStdout())
		return err
	}

	dir := "."
	if output != "" {
		dir = filepath.Dir(output)
	}
	tmp, err := os.CreateTemp(dir, ".renderctl-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	info, err := fetch(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	dest := output
	if dest == "" {
		dest = filepath.Base(info.Filename)
		if dest == "" || dest == "." || dest == string(filepath.Separator) {
			dest = "render.out"
		}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), describeArtifact(dest, info.Size, info.Duration))
	return nil
}

