// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Corphon/BookForge/internal/app"
	"github.com/Corphon/BookForge/internal/config"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/services"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type demoOptions struct {
	interactive bool
	delay       time.Duration
	timeout     time.Duration
	format      string
	outDir      string
	width       int
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := demoOptions{}

	cmd := &cobra.Command{
		Use:   "bookforge-demo",
		Short: "Write a whole book in the console with the offline assistant",
		Long: "Runs the authoring wizard against the scripted offline assistant.\n" +
			"By default auto-pilot answers every question; use --interactive to answer yourself.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "answer the wizard yourself")
	cmd.Flags().DurationVar(&opts.delay, "delay", 20*time.Millisecond, "auto-pilot reply delay")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "give up after this long")
	cmd.Flags().StringVar(&opts.format, "format", "markdown", "export format (markdown, txt, html, json)")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "write the exported book under this directory")
	cmd.Flags().IntVar(&opts.width, "width", 100, "render width")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "show service logs")
	return cmd
}

func runDemo(ctx context.Context, opts demoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !opts.verbose {
		utils.GetLogger().SetLogLevel(utils.WARNING)
	}

	cfg := &config.AppConfig{
		LLMProvider:    services.OfflineProviderName,
		LLMConfig:      map[string]string{},
		AutoPilotDelay: opts.delay,
		SessionTTL:     time.Hour,
		CallTimeout:    30 * time.Second,
		ExportDir:      "exports",
	}

	fs := afero.NewMemMapFs()
	if opts.outDir != "" {
		fs = afero.NewOsFs()
		cfg.ExportDir = opts.outDir
	}

	svc, err := app.Build(cfg, app.Options{FS: fs})
	if err != nil {
		return err
	}
	defer svc.Close()

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(opts.width),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	fmt.Println("📚 BookForge demo (offline assistant)")
	fmt.Println("=====================================")

	session, err := svc.Wizard.CreateProject(!opts.interactive)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(opts.timeout)
	if opts.interactive {
		session, err = chat(svc.Wizard, session.ID, renderer, deadline)
	} else {
		session, err = waitForCompletion(svc.Wizard, session.ID, deadline, func(s *wizard.Session) {
			fmt.Printf("\r⏳ %3d%%  %-40s", s.Progress().Percent, s.CurrentStep().Title)
		})
		fmt.Println()
	}
	if err != nil {
		return err
	}

	printTranscript(renderer, session.Transcript)

	result, err := svc.Export.ExportProject(ctx, session.ID, opts.format)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if result.Format == models.ExportMarkdown {
		printMarkdown(renderer, result.Content)
	} else {
		fmt.Println(result.Content)
	}
	fmt.Printf("\n✅ %q: %d chapters, %d words", result.Title, result.ChapterCount, result.WordCount)
	if opts.outDir != "" {
		fmt.Printf(", saved to %s", result.FilePath)
	}
	fmt.Println()
	return nil
}

// waitForCompletion 轮询直到项目完成
func waitForCompletion(w *services.WizardService, id string, deadline time.Time, onTick func(*wizard.Session)) (*wizard.Session, error) {
	for {
		session, err := w.GetProject(id)
		if err != nil {
			return nil, err
		}
		if onTick != nil {
			onTick(session)
		}
		if session.Completed {
			return session, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("book not finished before the deadline (stuck at %s)", session.CurrentStep().ID)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// waitIdle 等待当前调用结束
func waitIdle(w *services.WizardService, id string, deadline time.Time) (*wizard.Session, error) {
	for {
		session, err := w.GetProject(id)
		if err != nil {
			return nil, err
		}
		if !session.IsLoading {
			return session, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("assistant did not answer in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func chat(w *services.WizardService, id string, renderer *glamour.TermRenderer, deadline time.Time) (*wizard.Session, error) {
	reader := bufio.NewReader(os.Stdin)
	shown := 0

	for {
		session, err := waitIdle(w, id, deadline)
		if err != nil {
			return nil, err
		}
		printTranscript(renderer, session.Transcript[shown:])
		shown = len(session.Transcript)
		if session.Completed {
			return session, nil
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			line = wizard.NextAutoPilotInput(session.Transcript)
			fmt.Printf("(auto) %s\n", line)
		case "quit", "exit":
			return nil, fmt.Errorf("cancelled")
		}

		if _, err := w.Submit(id, wizard.UserInput{Text: line}); err != nil {
			fmt.Printf("⚠️ %v\n", err)
			continue
		}
		shown++ // 用户自己的消息不再回显
	}
}

func printTranscript(renderer *glamour.TermRenderer, messages []models.ChatMessage) {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			fmt.Fprintf(&b, "**You:** %s\n\n", msg.Text)
		case models.RoleAssistant:
			prefix := "**Assistant:**"
			if msg.Kind == models.KindError {
				prefix = "**⚠️ Assistant:**"
			} else if msg.Kind == models.KindAdvisory {
				prefix = "**📝 Note:**"
			}
			fmt.Fprintf(&b, "%s %s\n\n", prefix, msg.Text)
			for i, opt := range msg.Options {
				line := opt.Title
				if opt.Description != "" {
					line += " - " + opt.Description
				}
				fmt.Fprintf(&b, "%d. %s\n", i+1, line)
			}
			if len(msg.Options) > 0 {
				b.WriteString("\n")
			}
		}
	}
	printMarkdown(renderer, b.String())
}

func printMarkdown(renderer *glamour.TermRenderer, markdown string) {
	if strings.TrimSpace(markdown) == "" {
		return
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		fmt.Println(markdown)
		return
	}
	fmt.Print(out)
}
