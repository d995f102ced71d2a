package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

// ImportOptions holds the settings for one import run
type ImportOptions struct {
	Owner       string
	DisplayName string // Only honoured for a single file
	MimeType    string // Empty means detect per file
	Metadata    map[string]string
	Recursive   bool
	DryRun      bool
	Quiet       bool
}

// ImportResult is the outcome of a single file import
type ImportResult struct {
	SourcePath  string `json:"source_path"`
	DisplayName string `json:"display_name"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	Key         string `json:"key,omitempty"`
	ETag        string `json:"etag,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Skipped     bool   `json:"skipped"`
	SkipReason  string `json:"skip_reason,omitempty"`
}

// BatchSummary is the overall result of an import run
type BatchSummary struct {
	TotalFiles  int             `json:"total_files"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	Skipped     int             `json:"skipped"`
	TotalTime   string          `json:"total_time"`
	TotalSize   int64           `json:"total_size"`
	Results     []*ImportResult `json:"results"`
	FailedFiles []string        `json:"failed_files,omitempty"`
}

// importer streams local files into the bucket through the upload service.
type importer struct {
	cfg *config.Config
	svc *uploads.Service
	out io.Writer
}

func importCmd() *cobra.Command {
	var (
		opts     ImportOptions
		metadata []string
	)

	cmd := &cobra.Command{
		Use:   "import <path>...",
		Short: "Import files from disk as completed uploads",
		Long: `Stream local files into the bucket and record them as completed uploads
owned by --owner. Directories are expanded; use --recursive to descend into
subdirectories. Content types are detected from file contents unless --type
is given.

Examples:
  chunkvault-admin import ./report.pdf --owner alice
  chunkvault-admin import ./exports --owner alice --recursive --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMetadata(metadata)
			if err != nil {
				return err
			}
			opts.Metadata = meta
			opts.Quiet = opts.Quiet || jsonOutput

			ctx := context.Background()
			env, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer env.Close()

			imp := &importer{cfg: env.cfg, svc: env.svc, out: os.Stdout}
			summary := imp.run(ctx, args, opts)

			if jsonOutput {
				printJSON(summary)
			} else {
				printSummary(os.Stdout, summary)
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d imports failed", summary.Failed, summary.TotalFiles)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "User ID that will own the imported files (required)")
	cmd.Flags().StringVar(&opts.DisplayName, "name", "", "Stored name when importing a single file")
	cmd.Flags().StringVar(&opts.MimeType, "type", "", "Content type for every file (default: detect)")
	cmd.Flags().StringArrayVar(&metadata, "metadata", nil, "Metadata as key=value (repeatable)")
	cmd.Flags().BoolVarP(&opts.Recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Show what would be imported without writing anything")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Only print the summary")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func (imp *importer) run(ctx context.Context, paths []string, opts ImportOptions) *BatchSummary {
	start := time.Now()
	summary := &BatchSummary{Results: []*ImportResult{}}

	files, err := collectFiles(paths, opts.Recursive)
	if err != nil {
		summary.Failed++
		summary.FailedFiles = append(summary.FailedFiles, err.Error())
	}
	summary.TotalFiles = len(files)
	if len(files) != 1 {
		opts.DisplayName = ""
	}

	for i, path := range files {
		if !opts.Quiet {
			fmt.Fprintf(imp.out, "[%d/%d] %s\n", i+1, len(files), path)
		}

		result := imp.importFile(ctx, path, opts)
		summary.Results = append(summary.Results, result)

		switch {
		case result.Skipped:
			summary.Skipped++
			if !opts.Quiet {
				fmt.Fprintf(imp.out, "  └─ SKIPPED: %s\n", result.SkipReason)
			}
		case result.Success:
			summary.Successful++
			summary.TotalSize += result.Size
			if !opts.Quiet && result.FileID != "" {
				fmt.Fprintf(imp.out, "  └─ %s (%s)\n", result.FileID, units.BytesSize(float64(result.Size)))
			}
		default:
			summary.Failed++
			summary.FailedFiles = append(summary.FailedFiles, fmt.Sprintf("%s: %s", path, result.Error))
			if !opts.Quiet {
				fmt.Fprintf(imp.out, "  └─ FAILED: %s\n", result.Error)
			}
		}
	}

	summary.TotalTime = time.Since(start).Round(time.Millisecond).String()
	return summary
}

func (imp *importer) importFile(ctx context.Context, path string, opts ImportOptions) *ImportResult {
	result := &ImportResult{SourcePath: path, DisplayName: filepath.Base(path)}
	if opts.DisplayName != "" {
		result.DisplayName = opts.DisplayName
	}

	f, err := os.Open(path)
	if err != nil {
		result.Error = fmt.Sprintf("cannot open file: %v", err)
		return result
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		result.Error = fmt.Sprintf("cannot stat file: %v", err)
		return result
	}
	result.Size = info.Size()

	if result.Size == 0 {
		result.Skipped = true
		result.SkipReason = "file is empty"
		return result
	}
	if result.Size > imp.cfg.MaxFileSize {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("larger than the %s limit", units.BytesSize(float64(imp.cfg.MaxFileSize)))
		return result
	}

	result.MimeType = opts.MimeType
	if result.MimeType == "" {
		if result.MimeType, err = detectMimeType(f); err != nil {
			result.Error = err.Error()
			return result
		}
	}

	if opts.DryRun {
		result.Success = true
		return result
	}

	rec, err := imp.svc.Import(ctx, uploads.ImportRequest{
		UserID:       opts.Owner,
		OriginalName: result.DisplayName,
		MimeType:     result.MimeType,
		Size:         result.Size,
		Metadata:     opts.Metadata,
		Body:         f,
	})
	if err != nil {
		if uploaderr.Is(err, uploaderr.InvalidInput) {
			result.Skipped = true
			result.SkipReason = uploaderr.Message(err)
			return result
		}
		slog.Debug("import failed", "path", path, "error", err)
		result.Error = uploaderr.Message(err)
		return result
	}

	result.Success = true
	result.FileID = rec.ID
	result.Key = rec.Key
	result.ETag = rec.ETag
	return result
}

// detectMimeType sniffs f and rewinds it.
func detectMimeType(f *os.File) (string, error) {
	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("cannot detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("cannot rewind file: %w", err)
	}
	return m.String(), nil
}

// collectFiles expands directories into the regular files they contain.
// Hidden files are skipped when walking but not when named explicitly.
func collectFiles(paths []string, recursive bool) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return files, fmt.Errorf("cannot access %s: %w", root, err)
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				slog.Warn("cannot access path", "path", path, "error", err)
				return nil
			}
			if path == root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return files, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	return files, nil
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		meta[strings.TrimSpace(k)] = v
	}
	return meta, nil
}

func printSummary(w io.Writer, summary *BatchSummary) {
	fmt.Fprintln(w, "\n======================================================================")
	fmt.Fprintln(w, "IMPORT SUMMARY")
	fmt.Fprintln(w, "======================================================================")
	fmt.Fprintf(w, "Total files processed: %d\n", summary.TotalFiles)
	fmt.Fprintf(w, "Successful:            %d\n", summary.Successful)
	fmt.Fprintf(w, "Skipped:               %d\n", summary.Skipped)
	fmt.Fprintf(w, "Failed:                %d\n", summary.Failed)
	fmt.Fprintf(w, "Total time:            %s\n", summary.TotalTime)
	if summary.Successful > 0 {
		fmt.Fprintf(w, "Total size:            %s\n", units.BytesSize(float64(summary.TotalSize)))
	}

	if len(summary.FailedFiles) > 0 {
		fmt.Fprintln(w, "\nFailed files:")
		for _, f := range summary.FailedFiles {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	fmt.Fprintln(w, "======================================================================")
}
