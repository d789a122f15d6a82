package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
	pdfutil "github.com/dharsanguruparan/PaperDrop/internal/pdf"
	"github.com/dharsanguruparan/PaperDrop/internal/queue"
	"github.com/dharsanguruparan/PaperDrop/internal/s3storage"
	"github.com/dharsanguruparan/PaperDrop/internal/workflow"
)

type uploadFlags struct {
	approve     bool
	title       string
	subject     string
	year        int
	duration    int
	retries     int
	deferFailed bool
	metricsAddr string
	metricsFile string
}

func newUploadCmd(flags *rootFlags) *cobra.Command {
	uf := &uploadFlags{}
	cmd := &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Parse a PDF paper and optionally save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, flags, uf, args[0])
		},
	}
	cmd.Flags().BoolVar(&uf.approve, "approve", false, "Save the paper after parsing")
	cmd.Flags().StringVar(&uf.title, "title", "", "Paper title (defaults to the parsed title)")
	cmd.Flags().StringVar(&uf.subject, "subject", "", "Subject: mathematics, english or physics")
	cmd.Flags().IntVar(&uf.year, "year", 0, "Exam year")
	cmd.Flags().IntVar(&uf.duration, "duration", 0, "Duration in minutes")
	cmd.Flags().IntVar(&uf.retries, "retries", 2, "Times to retry questions that failed to save")
	cmd.Flags().BoolVar(&uf.deferFailed, "defer-failed", false, "Queue questions that still fail for the background worker")
	cmd.Flags().StringVar(&uf.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	cmd.Flags().StringVar(&uf.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when the command ends (textfile collector format)")
	return cmd
}

func runUpload(cmd *cobra.Command, flags *rootFlags, uf *uploadFlags, path string) (err error) {
	ctx := cmd.Context()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	a, err := newApp(cmd, flags, m)
	if err != nil {
		return err
	}
	defer a.Close()
	if uf.metricsAddr != "" {
		stop := metrics.Serve(ctx, uf.metricsAddr, reg, a.logger)
		defer stop()
	}
	if uf.metricsFile != "" {
		defer func() {
			if werr := metrics.WriteFile(uf.metricsFile, reg); werr != nil {
				err = errors.Join(err, werr)
			}
		}()
	}

	file, err := readSource(path)
	if err != nil {
		return err
	}

	opts := workflow.Options{
		MaxFileSize:      a.cfg.Upload.MaxFileSize,
		AllowedType:      a.cfg.Upload.AllowedType,
		ChildConcurrency: a.cfg.Upload.ChildConcurrency,
		CurrentPath:      a.cfg.Upload.Path,
		Inspect:          pdfutil.Inspect,
		Logger:           a.logger,
		Metrics:          m,
	}
	if a.cfg.Archive.Enabled {
		archive, err := s3storage.New(a.cfg.Archive, a.logger)
		if err != nil {
			return err
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			a.logger.Warn("Archive bucket unavailable, source files will not be archived", "error", err)
		} else {
			opts.Archiver = archive
		}
	}
	ctl := workflow.New(a.session, a.client, opts)
	defer ctl.Close()

	if err := ctl.SelectFile(file); err != nil {
		return err
	}
	if pf := ctl.Draft().Preflight; pf != nil {
		fmt.Fprintf(a.out, "%s: %d pages\n", file.Name, pf.Pages)
	}

	fmt.Fprintln(a.out, "Parsing...")
	draft, err := ctl.Upload(ctx)
	if err != nil {
		return describe(err)
	}
	if err := applyMetaFlags(ctl, draft.Meta, uf); err != nil {
		return err
	}
	draft = ctl.Draft()
	printMeta(a.out, draft.Meta)
	if err := printItems(a.out, draft.Items); err != nil {
		return err
	}

	if !uf.approve {
		fmt.Fprintln(a.out, "Review the questions above, then run again with --approve to save them.")
		return nil
	}

	result, err := ctl.ApproveAndSave(ctx)
	for attempt := 0; err != nil && attempt < uf.retries; attempt++ {
		var partial *workflow.PartialSaveError
		if !errors.As(err, &partial) || authFailure(partial) {
			break
		}
		fmt.Fprintf(a.out, "%s; retrying (%d/%d)\n", partial.Error(), attempt+1, uf.retries)
		result, err = ctl.RetryChildren(ctx)
	}
	if err != nil {
		var partial *workflow.PartialSaveError
		if errors.As(err, &partial) && uf.deferFailed {
			return deferChildren(cmd, a, ctl, partial)
		}
		return describe(err)
	}

	fmt.Fprintf(a.out, "Saved paper %s with %d questions\n", result.PaperID, len(result.Questions))
	if result.ArchiveKey != "" {
		fmt.Fprintf(a.out, "Source archived at %s\n", result.ArchiveKey)
	}
	return nil
}

// authFailure reports whether a child failed because the session ended.
// Retrying those only repeats the 401.
func authFailure(p *workflow.PartialSaveError) bool {
	for _, f := range p.Failed {
		if apperror.IsAuth(f.Err) {
			return true
		}
	}
	return false
}

func deferChildren(cmd *cobra.Command, a *app, ctl *workflow.Controller, partial *workflow.PartialSaveError) error {
	if a.cfg.Queue.RedisAddr == "" {
		return fmt.Errorf("%s; set queue.redis_addr to defer them", partial.Error())
	}
	paperID, items, err := ctl.PendingChildren()
	if err != nil {
		return err
	}
	client := asynq.NewClient(queue.RedisOpt(a.cfg.Queue))
	defer client.Close()
	info, err := queue.EnqueueRetryChildren(cmd.Context(), client, queue.RetryChildrenPayload{PaperID: paperID, Items: items}, a.cfg.Queue.MaxRetry)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Paper %s saved; %d questions queued for retry (task %s)\n", paperID, len(items), info.ID)
	return nil
}

func readSource(path string) (model.SourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.SourceFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	return model.SourceFile{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

func applyMetaFlags(ctl *workflow.Controller, meta model.PaperMeta, uf *uploadFlags) error {
	if uf.title != "" {
		meta.Title = uf.title
	}
	if uf.subject != "" {
		meta.Subject = uf.subject
	}
	if uf.year != 0 {
		meta.Year = uf.year
	}
	if uf.duration != 0 {
		meta.DurationMinutes = uf.duration
	}
	return ctl.SetMeta(meta)
}

// describe turns workflow errors into the message shown to the user.
func describe(err error) error {
	var saveErr *workflow.SaveError
	switch {
	case apperror.IsAuth(err):
		return errors.New(apperror.SafeMessage(err))
	case errors.As(err, &saveErr):
		return fmt.Errorf("nothing was saved: %s", apperror.SafeMessage(err))
	}
	var partial *workflow.PartialSaveError
	if errors.As(err, &partial) {
		return fmt.Errorf("%s (failed: %s)", partial.Error(), strings.Join(partial.FailedIDs(), ", "))
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return errors.New(appErr.Message)
	}
	return err
}

func printMeta(w io.Writer, meta model.PaperMeta) {
	fmt.Fprintf(w, "Title:   %s\n", meta.Title)
	fmt.Fprintf(w, "Subject: %s\n", meta.Subject)
	if meta.Year != 0 {
		fmt.Fprintf(w, "Year:    %d\n", meta.Year)
	}
	if meta.TotalMarks != 0 {
		fmt.Fprintf(w, "Marks:   %d\n", meta.TotalMarks)
	}
}

func printItems(w io.Writer, items []model.ParsedItem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tMARKS\tQUESTION")
	for i, item := range items {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, item.Kind, item.PointValue, truncate(item.Text, 70))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
