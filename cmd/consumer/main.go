// The consumer is the tab-side counterpart of the relay daemon: it attaches
// to the tab socket as one session, interprets the daemon's push frames
// through the presentation logic, and exposes the sign-in and sticker
// upload/generation boundaries on the command line.
//
// Commands:
//
//	consumer attach                 attach as a tab and present incoming stickers
//	consumer login                  interactive OAuth sign-in
//	consumer upload [-scary] FILE   upload a sticker image
//	consumer generate [-scary] PROMPT...  generate a sticker from a prompt
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/assets"
	"github.com/poltergeistlabs/poltergeist/internal/auth"
	"github.com/poltergeistlabs/poltergeist/internal/config"
	"github.com/poltergeistlabs/poltergeist/internal/control"
	"github.com/poltergeistlabs/poltergeist/internal/observ"
	"github.com/poltergeistlabs/poltergeist/internal/presenter"
	"github.com/poltergeistlabs/poltergeist/internal/redis"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: consumer <attach|login|upload|generate> [args]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	switch args[0] {
	case "attach":
		return runAttach(ctx, cfg, logger)
	case "login":
		return runLogin(ctx, cfg, logger)
	case "upload":
		return runUpload(ctx, cfg, logger, args[1:])
	case "generate":
		return runGenerate(ctx, cfg, logger, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// consoleEffects renders presentation decisions on the terminal. Overlay
// layout and audio live behind the same interface in richer surfaces.
type consoleEffects struct{}

func (consoleEffects) ShowSticker(imageURL, senderName string) {
	if senderName == "" {
		fmt.Printf("sticker: %s\n", imageURL)
		return
	}
	fmt.Printf("sticker from %s: %s\n", senderName, imageURL)
}

func (consoleEffects) ShowJumpScare(imageURL string) {
	fmt.Printf("BOO! %s (press d to dismiss)\n", imageURL)
}

func (consoleEffects) HideJumpScare() {
	fmt.Println("jump-scare dismissed")
}

// runAttach connects to the daemon's tab socket and runs this process as one
// tab session. Key presses stand in for page interactions: Enter is a user
// gesture (triggers an armed scare), "d" dismisses, "q" quits.
func runAttach(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	ledger := redis.NewLedger(redisClient, logger)
	p := presenter.New(ledger, consoleEffects{}, logger)

	wsURL := tabSocketURL(cfg.DaemonURL)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("attach to %s: %w", wsURL, err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	hello, err := control.Encode(&control.Hello{
		URL:       "https://localhost/console",
		Listening: true,
	})
	if err != nil {
		return fmt.Errorf("build hello frame: %w", err)
	}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send hello frame: %w", err)
	}

	logger.Info("attached as tab session", zap.String("daemon", wsURL))

	readErrs := make(chan error, 1)
	go func() {
		readErrs <- readFrames(ctx, conn, p, logger)
	}()

	keys := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			keys <- strings.TrimSpace(scanner.Text())
		}
		close(keys)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case err := <-readErrs:
			return err
		case <-shutdown:
			return nil
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			switch key {
			case "q":
				return nil
			case "d":
				p.Dismiss(ctx)
			default:
				p.OnInteraction(ctx)
			}
		}
	}
}

func readFrames(ctx context.Context, conn *websocket.Conn, p *presenter.Presenter, logger *zap.Logger) error {
	for {
		var env control.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("daemon connection lost: %w", err)
		}

		msg, err := control.Decode(env)
		if err != nil {
			logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		switch frame := msg.(type) {
		case *control.Notify:
			p.HandleNotify(ctx, *frame)
		case *control.Present:
			if err := p.HandlePresent(ctx, *frame); err != nil {
				logger.Warn("rejecting present frame", zap.Error(err))
			}
		default:
			logger.Debug("ignoring frame", zap.String("kind", string(env.Kind)))
		}
	}
}

func tabSocketURL(daemonURL string) string {
	u := strings.TrimSuffix(daemonURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/tabs"
}

// runLogin walks the interactive OAuth flow: print the sign-in URL, read the
// redirected code back from the terminal, exchange it for a session.
func runLogin(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	client, err := auth.NewClient(auth.Config{
		BackendURL:   cfg.BackendURL,
		APIKey:       cfg.APIKey,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create auth client: %w", err)
	}

	fmt.Printf("open this URL to sign in:\n\n  %s\n\n", client.AuthCodeURL("consumer"))
	fmt.Print("paste the code (or the error) from the redirect: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return fmt.Errorf("no input")
	}
	code := strings.TrimSpace(scanner.Text())

	// Backing out of the provider's screen is not a failure.
	if auth.IsCancellation(code) {
		fmt.Println("sign-in cancelled")
		return nil
	}

	sess, err := client.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}

	fmt.Printf("signed in as %s (%s), session valid until %s\n",
		sess.Email, sess.UserID, sess.ExpiresAt.Format("15:04:05"))
	return nil
}

func runUpload(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	scary := fs.Bool("scary", false, "mark the asset for the scary catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: consumer upload [-scary] FILE")
	}

	path := fs.Arg(0)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	client, err := assets.NewClient(assets.Config{
		BackendURL: cfg.BackendURL,
		APIKey:     cfg.APIKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create assets client: %w", err)
	}

	desc, err := client.Upload(ctx, filepath.Base(path), file, *scary)
	if err != nil {
		return err
	}

	fmt.Printf("uploaded %s -> %s\n", desc.ID, desc.ImageURL)
	return nil
}

func runGenerate(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	scary := fs.Bool("scary", false, "generate for the scary catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: consumer generate [-scary] PROMPT...")
	}

	client, err := assets.NewClient(assets.Config{
		BackendURL: cfg.BackendURL,
		APIKey:     cfg.APIKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create assets client: %w", err)
	}

	desc, err := client.Generate(ctx, strings.Join(fs.Args(), " "), *scary)
	if err != nil {
		return err
	}

	fmt.Printf("generated %s -> %s\n", desc.ID, desc.ImageURL)
	return nil
}
