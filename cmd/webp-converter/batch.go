package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	webpconverter "github.com/menta2k/webp-converter"
	"github.com/menta2k/webp-converter/internal/config"
	"github.com/menta2k/webp-converter/internal/utils"
)

// BatchExecutor converts files with one set of options and writes
// <prefix><basename><suffix>.webp into OutputDir
type BatchExecutor struct {
	Converter *webpconverter.Converter
	Output    config.OutputConfig
	OutputDir string
	Options   webpconverter.ConvertOptions
	Workers   int
}

func (e *BatchExecutor) Exec(ctx context.Context, files []string) error {
	if len(files) == 0 {
		log.Ctx(ctx).Warn().Msg("no images to convert")
		return nil
	}

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(workers)

	if err := utils.EnsureDir(e.OutputDir); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", e.OutputDir, err)
	}
	for _, file := range files {
		file := file
		pooler.Go(func(ctx context.Context) error {
			if _, err := e.ConvertFile(ctx, file); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Str("file", file).
					Msg("failed to convert")
				return err
			}
			return nil
		})
	}

	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return err
	}

	return nil
}

// ConvertFile converts one file and returns the written path
func (e *BatchExecutor) ConvertFile(ctx context.Context, input string) (string, error) {
	out, err := e.Converter.ProcessImageFile(ctx, input, e.Options)
	if err != nil {
		return "", err
	}

	if err := utils.EnsureDir(e.OutputDir); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", e.OutputDir, err)
	}
	dest := utils.GenerateOutputFilename(input, e.OutputDir, e.Output.Prefix, e.Output.Suffix, out.Extension())
	if err := os.WriteFile(dest, out.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", dest, err)
	}

	log.Ctx(ctx).Info().
		Str("file", dest).
		Str("size", utils.FormatFileSize(int64(out.Size))).
		Int("width", out.Width).
		Int("height", out.Height).
		Msg("Wrote output")
	return dest, nil
}
