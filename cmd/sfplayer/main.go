// Package main is the entry point for the sfplayer CLI
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/sfplayer/pkg/api"
	"github.com/james-see/sfplayer/pkg/config"
	"github.com/james-see/sfplayer/pkg/library"
	"github.com/james-see/sfplayer/pkg/logging"
	"github.com/james-see/sfplayer/pkg/output"
	"github.com/james-see/sfplayer/pkg/player"
	"github.com/james-see/sfplayer/pkg/recorder"
	"github.com/james-see/sfplayer/pkg/soundfont"
	"github.com/james-see/sfplayer/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath  string
	backendName string
	logLevel    string

	bank       int
	patch      int
	key        int
	hold       time.Duration
	recordFile string
	serverPort int
)

// releaseTail lets the synth ring out after the last note-off before closing
const releaseTail = 300 * time.Millisecond

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sfplayer",
	Short: "Browse SoundFonts and play their presets",
	Long: `sfplayer lists the presets of SoundFont (.sf2/.sf3) files found in
configured directories and plays them through a software synthesizer
or an external MIDI port.

Examples:
  sfplayer dirs add ~/soundfonts
  sfplayer presets ~/soundfonts/GeneralUser.sf2
  sfplayer play ~/soundfonts/GeneralUser.sf2 --bank 128 --patch 0 --key 38
  sfplayer tui --record session.mid
  sfplayer serve --port 8080`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var dirsCmd = &cobra.Command{
	Use:   "dirs",
	Short: "Manage SoundFont directories",
}

var dirsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List SoundFont directories",
	Args:  cobra.NoArgs,
	RunE:  runDirsList,
}

var dirsAddCmd = &cobra.Command{
	Use:   "add <dir>...",
	Short: "Add SoundFont directories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDirsAdd,
}

var dirsRemoveCmd = &cobra.Command{
	Use:   "remove <dir>...",
	Short: "Remove SoundFont directories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDirsRemove,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List SoundFont files in the configured directories",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var presetsCmd = &cobra.Command{
	Use:   "presets <file>",
	Short: "List the presets of a SoundFont",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresets,
}

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Select a preset and play one note",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the outputs of the selected backend",
	Args:  cobra.NoArgs,
	RunE:  runPorts,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.config/sfplayer/config.json)")
	rootCmd.PersistentFlags().StringVarP(&backendName, "backend", "b", "", "Output backend ("+strings.Join(output.Backends(), "|")+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// play command
	playCmd.Flags().IntVar(&bank, "bank", 0, "Bank number (128 and above select percussion)")
	playCmd.Flags().IntVar(&patch, "patch", 0, "Patch number")
	playCmd.Flags().IntVarP(&key, "key", "k", 60, "MIDI key to play")
	playCmd.Flags().DurationVar(&hold, "hold", 0, "Note length (default from config)")

	// tui command
	tuiCmd.Flags().StringVarP(&recordFile, "record", "r", "", "Record played messages to a MIDI file")

	// serve command
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "Server port")

	// Add commands
	dirsCmd.AddCommand(dirsListCmd)
	dirsCmd.AddCommand(dirsAddCmd)
	dirsCmd.AddCommand(dirsRemoveCmd)
	rootCmd.AddCommand(dirsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(portsCmd)
}

// env is what every command builds from the config and global flags
type env struct {
	cfg     *config.Config
	logger  *log.Logger
	library *library.Library
}

func loadEnv(logTo io.Writer) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if backendName != "" {
		cfg.Output.Backend = backendName
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := logging.New(cfg.LogLevel, logTo)
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded", "path", cfg.Path(), "backend", cfg.Output.Backend)

	return &env{cfg: cfg, logger: logger, library: library.New(cfg, logger)}, nil
}

// newPlayer builds a player on the configured backend; sink, if set, sees every sent message
func (e *env) newPlayer(sink func(midi.Message)) (*player.Player, error) {
	opener, err := output.NewOpener(e.cfg.Output.Backend, e.logger)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		opener = output.TeeOpener(opener, sink)
	}
	return player.New(opener, player.Options{Logger: e.logger}), nil
}

func closePlayer(p *player.Player, logger *log.Logger) {
	if err := p.Close(); err != nil {
		logger.Warn("closing player failed", "err", err)
	}
}

func printDirs(dirs []string) {
	if len(dirs) == 0 {
		fmt.Println("No SoundFont directories configured")
		return
	}
	for _, d := range dirs {
		fmt.Println(d)
	}
}

func runDirsList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(os.Stderr)
	if err != nil {
		return err
	}
	printDirs(e.library.Directories())
	return nil
}

func absDirs(args []string) ([]string, error) {
	dirs := make([]string, 0, len(args))
	for _, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, abs)
	}
	return dirs, nil
}

func runDirsAdd(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(os.Stderr)
	if err != nil {
		return err
	}
	dirs, err := absDirs(args)
	if err != nil {
		return err
	}
	if err := e.library.AddDirectories(dirs...); err != nil {
		return err
	}
	printDirs(e.library.Directories())
	return nil
}

func runDirsRemove(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(os.Stderr)
	if err != nil {
		return err
	}
	dirs, err := absDirs(args)
	if err != nil {
		return err
	}
	if err := e.library.RemoveDirectories(dirs...); err != nil {
		return err
	}
	printDirs(e.library.Directories())
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(os.Stderr)
	if err != nil {
		return err
	}
	files := e.library.SoundFonts()
	if len(files) == 0 {
		fmt.Println("No SoundFonts found")
		return nil
	}
	for _, sf := range files {
		if sf.Invalid() {
			fmt.Printf("%s (invalid)\n", sf.Path)
			continue
		}
		fmt.Println(sf.Path)
	}
	return nil
}

func runPresets(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(os.Stderr)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	sf, ok := e.library.Find(path)
	if !ok {
		e.logger.Debug("file outside configured directories", "path", path)
		sf = soundfont.NewEntity(path)
	}
	f, err := sf.Load()
	if err != nil {
		return err
	}

	if f.BankName != "" {
		fmt.Println(f.BankName)
	}
	fmt.Printf("%-5s %-5s %-4s %-28s %s\n", "BANK", "PATCH", "PROG", "PRESET", "INSTRUMENT")
	for _, r := range f.Rows() {
		fmt.Printf("%-5d %-5d %-4d %-28s %s\n", r.Bank, r.Patch, r.Program, r.Display, r.Instrument)
	}
	return nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(os.Stderr)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if hold <= 0 {
		hold = e.cfg.Hold()
	}

	p, err := e.newPlayer(nil)
	if err != nil {
		return err
	}
	defer closePlayer(p, e.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sel := player.Selection{File: path, Bank: bank, Patch: patch}
	if err := p.SelectInstrument(ctx, sel); err != nil {
		return err
	}
	if err := p.PlayNote(key, hold); err != nil {
		return err
	}
	fmt.Printf("Playing key %d on %s (channel %d)\n", key, sel, sel.Channel()+1)

	select {
	case <-time.After(hold + releaseTail):
	case <-ctx.Done():
	}
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	logFile, err := logging.File()
	if err != nil {
		return err
	}
	defer logFile.Close()

	e, err := loadEnv(logFile)
	if err != nil {
		return err
	}

	var rec *recorder.Recorder
	var sink func(midi.Message)
	if recordFile != "" {
		rec = recorder.New()
		sink = rec.Record
	}

	p, err := e.newPlayer(sink)
	if err != nil {
		return err
	}
	defer closePlayer(p, e.logger)

	if err := tui.Run(p, e.library, tui.Options{Hold: e.cfg.Hold()}); err != nil {
		return err
	}

	if rec == nil {
		return nil
	}
	if err := rec.WriteFile(recordFile); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	fmt.Printf("Recorded %d messages to %s\n", rec.Len(), recordFile)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(os.Stderr)
	if err != nil {
		return err
	}
	p, err := e.newPlayer(nil)
	if err != nil {
		return err
	}
	defer closePlayer(p, e.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.logger.Info("starting API server", "port", serverPort)
	return api.NewServer(p, e.library, e.cfg.Hold()).Run(ctx, serverPort)
}

func runPorts(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(os.Stderr)
	if err != nil {
		return err
	}
	opener, err := output.NewOpener(e.cfg.Output.Backend, e.logger)
	if err != nil {
		return err
	}

	var fonts []string
	for _, sf := range e.library.SoundFonts() {
		if !sf.Invalid() {
			fonts = append(fonts, sf.Path)
			break
		}
	}
	acc, err := opener(output.Config{Driver: output.ProbeDriver(), SoundFonts: fonts})
	if err != nil {
		return err
	}
	ids, err := acc.Outputs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return output.ErrNoOutputs
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
