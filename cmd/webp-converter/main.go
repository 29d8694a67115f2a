package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	webpconverter "github.com/menta2k/webp-converter"
	"github.com/menta2k/webp-converter/internal/config"
	"github.com/menta2k/webp-converter/internal/server"
	"github.com/menta2k/webp-converter/internal/utils"
	"github.com/menta2k/webp-converter/internal/watcher"
	"github.com/menta2k/webp-converter/pkg/cropper"
	"github.com/menta2k/webp-converter/pkg/session"
	"github.com/menta2k/webp-converter/pkg/settings"
	"github.com/menta2k/webp-converter/pkg/types"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("webp-converter"),
		kong.Description("Convert images to WebP with resizing, cropping and shape masks."),
		kong.UsageOnError(),
		kong.Vars{"version": webpconverter.GetVersion()},
	)
	if err := cliCtx.Run(&args.Globals); err != nil {
		return err
	}

	return nil
}

type Globals struct {
	Config       string           `help:"Path to a YAML or JSON config file" type:"path"`
	SettingsFile string           `help:"Path to the remembered settings file" type:"path"`
	Verbose      bool             `help:"Enable verbose logging" short:"v"`
	Version      kong.VersionFlag `help:"Print version and exit"`
}

type cliArgs struct {
	Globals

	Convert  convertCmd  `cmd:"" help:"Convert one image"`
	Batch    batchCmd    `cmd:"" help:"Convert every image under a directory"`
	Watch    watchCmd    `cmd:"" help:"Convert an image again whenever it changes"`
	Serve    serveCmd    `cmd:"" help:"Serve the editing API for one session"`
	Settings settingsCmd `cmd:"" name:"settings" help:"Show or clear remembered settings"`
}

// setup configures logging and returns a context carrying the logger
func (g *Globals) setup() (context.Context, context.CancelFunc) {
	level := zerolog.InfoLevel
	if g.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return log.Logger.WithContext(ctx), cancel
}

func (g *Globals) loadConfig() (*config.Config, error) {
	path := g.Config
	if path == "" {
		path = config.GetConfigPath()
		if !utils.FileExists(path) {
			return config.Default(), nil
		}
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Msg("Loaded config")
	return cfg, nil
}

func (g *Globals) store() *settings.Store {
	if g.SettingsFile != "" {
		return settings.NewStore(g.SettingsFile)
	}
	return settings.NewStore(settings.DefaultPath())
}

func newConverter(cfg *config.Config) (*webpconverter.Converter, error) {
	return webpconverter.NewWithConfig(webpconverter.Config{
		DefaultQuality: cfg.Converter.DefaultQuality,
		Compositor:     cfg.CompositorConfig(),
	})
}

// StyleFlags are shared by every command that produces output
type StyleFlags struct {
	Out      string  `help:"Output directory (defaults to output.output_dir)" short:"o" type:"path"`
	Width    int     `help:"Output width; 0 follows the height or the source"`
	Height   int     `help:"Output height; 0 follows the width or the source"`
	Mask     string  `help:"Clip shape: none, circle or rounded:N (overrides --circle and --radius)"`
	Circle   bool    `help:"Clip to a circle"`
	Radius   int     `help:"Corner radius in pixels (0-100)" default:"-1"`
	Crop     string  `help:"Crop region as x,y,w,h"`
	CropUnit string  `help:"Unit of --crop" enum:"percent,pixel,%,px" default:"percent"`
	Aspect   string  `help:"Lock the crop to an aspect ratio (square, landscape, 16:9, ...); without --crop the centered region is used"`
	Quality  float64 `help:"WebP quality in (0,1]; 0 uses the configured default"`
	Remember bool    `help:"Remember the mask settings for later runs"`
}

// mask resolves the clip shape from flags, falling back to remembered settings
func (f StyleFlags) mask(stored settings.Settings) (types.MaskShape, error) {
	switch {
	case f.Mask != "":
		return types.ParseMask(f.Mask)
	case f.Circle || f.Radius >= 0:
		return types.MaskFor(f.Circle, f.Radius), nil
	}
	return stored.Mask(), nil
}

func (f StyleFlags) options(store *settings.Store) (webpconverter.ConvertOptions, error) {
	opts := webpconverter.ConvertOptions{
		Width:   f.Width,
		Height:  f.Height,
		Quality: f.Quality,
	}
	if f.Width < 0 || f.Height < 0 {
		return opts, fmt.Errorf("%w: negative size %dx%d", types.ErrInvalidDimension, f.Width, f.Height)
	}
	mask, err := f.mask(store.Load())
	if err != nil {
		return opts, err
	}
	opts.Mask = mask
	if f.Crop != "" {
		unit, err := types.ParseCropUnit(f.CropUnit)
		if err != nil {
			return opts, err
		}
		region, err := types.ParseCropRegion(f.Crop, unit)
		if err != nil {
			return opts, err
		}
		opts.Crop = &region
	}
	if f.Aspect != "" {
		ratio, err := cropper.ParseAspectRatio(f.Aspect)
		if err != nil {
			return opts, err
		}
		opts.Aspect = ratio.Ratio()
	}
	return opts, nil
}

func (f StyleFlags) remember(store *settings.Store) error {
	if !f.Remember {
		return nil
	}
	mask, err := f.mask(settings.Settings{})
	if err != nil {
		return err
	}
	radius := max(mask.Radius, 0)
	circle := mask.Kind == types.MaskCircle
	remember := true
	if _, err := store.Save(settings.Settings{BorderRadius: &radius, IsCircle: &circle, Remember: &remember}); err != nil {
		return err
	}
	log.Info().Str("path", store.Path()).Msg("Settings remembered")
	return nil
}

func (f StyleFlags) outputDir(cfg *config.Config) string {
	if f.Out != "" {
		return f.Out
	}
	return cfg.Output.OutputDir
}

type convertCmd struct {
	StyleFlags
	Input string `arg:"" help:"Image to convert" type:"existingfile"`
}

func (cmd *convertCmd) Run(g *Globals) error {
	ctx, cancel := g.setup()
	defer cancel()

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	conv, err := newConverter(cfg)
	if err != nil {
		return err
	}
	store := g.store()
	opts, err := cmd.options(store)
	if err != nil {
		return err
	}
	if err := cmd.remember(store); err != nil {
		return err
	}

	exec := &BatchExecutor{Converter: conv, Output: cfg.Output, OutputDir: cmd.outputDir(cfg), Options: opts}
	_, err = exec.ConvertFile(ctx, cmd.Input)
	return err
}

type batchCmd struct {
	StyleFlags
	Dir     string `arg:"" help:"Directory to scan for images" type:"existingdir"`
	Workers int    `help:"Concurrent conversions; 0 uses the number of CPUs"`
}

func (cmd *batchCmd) Run(g *Globals) error {
	ctx, cancel := g.setup()
	defer cancel()

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	conv, err := newConverter(cfg)
	if err != nil {
		return err
	}
	opts, err := cmd.options(g.store())
	if err != nil {
		return err
	}

	files, err := utils.ListImageFiles(cmd.Dir)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	exec := &BatchExecutor{
		Converter: conv,
		Output:    cfg.Output,
		OutputDir: cmd.outputDir(cfg),
		Options:   opts,
		Workers:   cmd.Workers,
	}
	return exec.Exec(ctx, files)
}

type watchCmd struct {
	StyleFlags
	Input    string        `arg:"" help:"Image to watch" type:"existingfile"`
	Debounce time.Duration `help:"Quiet period before reconverting (defaults to watch.debounce_ms)"`
}

func (cmd *watchCmd) Run(g *Globals) error {
	ctx, cancel := g.setup()
	defer cancel()

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	conv, err := newConverter(cfg)
	if err != nil {
		return err
	}
	opts, err := cmd.options(g.store())
	if err != nil {
		return err
	}

	sess := conv.NewSession(session.Options{Mask: opts.Mask, Quality: opts.Quality, LockAspect: true})
	defer sess.Close()

	dir := cmd.outputDir(cfg)
	reload := func(ctx context.Context, path string) {
		if err := reloadSource(ctx, sess, path, dir, cfg.Output, opts); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("file", path).Msg("Conversion failed, keeping previous output")
		}
	}

	debounce := cmd.Debounce
	if debounce <= 0 {
		debounce = time.Duration(cfg.Watch.DebounceMS) * time.Millisecond
	}
	w, err := watcher.New(cmd.Input, debounce, reload)
	if err != nil {
		return err
	}

	reload(ctx, w.Path())
	log.Ctx(ctx).Info().Str("file", w.Path()).Msg("Watching for changes")
	return w.Run(ctx)
}

// reloadSource loads path as the session source with the requested crop and
// size in one request, and writes the session output
func reloadSource(ctx context.Context, sess *session.Session, path, dir string, out config.OutputConfig, opts webpconverter.ConvertOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if _, err := sess.LoadSourceWith(ctx, path, data, session.LoadOptions{
		Crop:   opts.Crop,
		Aspect: opts.Aspect,
		Width:  opts.Width,
		Height: opts.Height,
	}); err != nil {
		return err
	}

	h := sess.Current()
	if h == nil {
		return types.ErrNoSource
	}
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	dest := utils.GenerateOutputFilename(path, dir, out.Prefix, out.Suffix, out.Format)
	if err := os.WriteFile(dest, h.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	log.Ctx(ctx).Info().
		Str("file", dest).
		Str("size", utils.FormatFileSize(int64(h.Size()))).
		Str("dimensions", h.Dimensions().String()).
		Msg("Wrote output")
	return nil
}

type serveCmd struct {
	Addr    string  `help:"Listen address (defaults to server.addr)"`
	Quality float64 `help:"Initial WebP quality; 0 uses the configured default"`
}

func (cmd *serveCmd) Run(g *Globals) error {
	ctx, cancel := g.setup()
	defer cancel()

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	conv, err := newConverter(cfg)
	if err != nil {
		return err
	}
	store := g.store()

	sess := conv.NewSession(session.Options{
		Mask:       store.Load().Mask(),
		Quality:    cmd.Quality,
		LockAspect: true,
	})
	defer sess.Close()

	addr := cmd.Addr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	srv := server.New(sess, server.Config{
		Addr:     addr,
		Settings: store,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down server...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
		},
	})

	return srv.Run(ctx)
}

type settingsCmd struct {
	Show  settingsShowCmd  `cmd:"" default:"1" help:"Print remembered settings"`
	Clear settingsClearCmd `cmd:"" help:"Forget remembered settings"`
}

type settingsShowCmd struct{}

func (cmd *settingsShowCmd) Run(g *Globals) error {
	store := g.store()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Path     string            `json:"path"`
		Settings settings.Settings `json:"settings"`
	}{store.Path(), store.Load()})
}

type settingsClearCmd struct{}

func (cmd *settingsClearCmd) Run(g *Globals) error {
	_, cancel := g.setup()
	defer cancel()

	store := g.store()
	if err := store.Clear(); err != nil {
		return err
	}
	log.Info().Str("path", store.Path()).Msg("Settings cleared")
	return nil
}
