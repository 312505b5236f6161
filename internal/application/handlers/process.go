package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ersonp/minutes-core/internal/domain/services"
	"github.com/ersonp/minutes-core/internal/infrastructure/parsers"
)

// ProcessHandler handles meeting payload processing.
type ProcessHandler struct {
	tracker *services.TransitionTracker
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(tracker *services.TransitionTracker) *ProcessHandler {
	return &ProcessHandler{
		tracker: tracker,
	}
}

// ProcessFileResult contains the result of processing one payload file.
type ProcessFileResult struct {
	FilePath     string
	MeetingID    string
	MeetingTitle string
	Candidates   int
	Result       *services.ProcessResult
}

// ProcessBatchResult contains the result of batch processing.
type ProcessBatchResult struct {
	TotalFiles       int
	TotalEntities    int
	TotalTransitions int
	FileResults      []*ProcessFileResult
	Errors           []error
}

// Handle processes one extractor payload file.
func (h *ProcessHandler) Handle(ctx context.Context, filePath string) (*ProcessFileResult, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("accessing file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", absPath)
	}

	parser := parsers.ForFile(absPath)
	if parser == nil {
		return nil, fmt.Errorf("unsupported file type: %s", absPath)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	payload, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Meeting.Title == "" {
		payload.Meeting.Title = strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	}

	result, err := h.tracker.Process(ctx, payload.Meeting, payload.Candidates)
	if err != nil {
		return nil, fmt.Errorf("processing meeting: %w", err)
	}

	return &ProcessFileResult{
		FilePath:     absPath,
		MeetingID:    payload.Meeting.ID,
		MeetingTitle: payload.Meeting.Title,
		Candidates:   len(payload.Candidates),
		Result:       result,
	}, nil
}

// HandleDirectory processes all matching payload files in a directory.
func (h *ProcessHandler) HandleDirectory(ctx context.Context, dirPath string, pattern string, recursive bool, progressFn func(file string)) (*ProcessBatchResult, error) {
	absPath, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("accessing path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absPath)
	}

	files, err := h.findFiles(absPath, pattern, recursive)
	if err != nil {
		return nil, fmt.Errorf("finding files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files matching pattern %q found in %s", pattern, absPath)
	}

	result := &ProcessBatchResult{
		FileResults: make([]*ProcessFileResult, 0, len(files)),
	}

	for _, file := range files {
		if progressFn != nil {
			progressFn(file)
		}

		fileResult, err := h.Handle(ctx, file)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", file, err))
			continue
		}

		result.FileResults = append(result.FileResults, fileResult)
		result.TotalFiles++
		result.TotalEntities += len(fileResult.Result.EntitiesTouched)
		result.TotalTransitions += fileResult.Result.TransitionsCreated
	}

	return result, nil
}

// findFiles finds all files matching the pattern in the directory.
func (h *ProcessHandler) findFiles(dirPath string, pattern string, recursive bool) ([]string, error) {
	var files []string

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if !recursive && path != dirPath {
				return filepath.SkipDir
			}
			return nil
		}

		matched, err := filepath.Match(pattern, info.Name())
		if err != nil {
			return err
		}

		if matched {
			files = append(files, path)
		}

		return nil
	}

	if err := filepath.Walk(dirPath, walkFn); err != nil {
		return nil, err
	}

	return files, nil
}

// IsDirectory checks if the given path is a directory.
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsGlobPattern checks if the path contains glob characters.
func IsGlobPattern(path string) bool {
	return strings.ContainsAny(path, "*?[")
}
