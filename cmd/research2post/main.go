package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/agent"
	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/handler"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/internal/platform"
	"github.com/young1lin/research2post/internal/review"
	"github.com/young1lin/research2post/internal/workflow"
	"github.com/young1lin/research2post/pkg/logger"
)

var (
	Version   = "dev"
	BuildDate = "unknown"
)

var (
	cfgFile string
	port    int
	showVer bool
)

var (
	authPlatform string
	authUser     string
	authWait     time.Duration

	postPlatform  string
	postUser      string
	postQuery     string
	postMaxLength int
	postHashtags  string
	postReview    bool
)

var rootCmd = &cobra.Command{
	Use:   "research2post",
	Short: "Research a topic on the web and publish it to LinkedIn or X",
	Long: `research2post researches a query with a search-grounded LLM loop,
shapes the result for a social platform's length and hashtag rules,
and publishes it with the user's OAuth credentials.

Without a subcommand it serves the HTTP API.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVer {
			fmt.Printf("research2post %s (built %s)\n", Version, BuildDate)
			return nil
		}
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the login, callback and post endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Print a platform authorization URL and wait for the callback",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuthorize(cmd.Context())
	},
}

var researchQuery string

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Print grounded research for a query without publishing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResearch(cmd.Context())
	},
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Research a query and publish the result for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPost(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ./config.yaml or ./configs/config.yaml)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	rootCmd.Flags().BoolVarP(&showVer, "version", "v", false, "show version")

	authorizeCmd.Flags().StringVar(&authPlatform, "platform", "", "platform name (linkedin or x)")
	authorizeCmd.Flags().StringVar(&authUser, "user", "", "local user id, used as OAuth state")
	authorizeCmd.Flags().DurationVar(&authWait, "wait", 5*time.Minute, "how long to wait for the callback")
	_ = authorizeCmd.MarkFlagRequired("platform")
	_ = authorizeCmd.MarkFlagRequired("user")

	postCmd.Flags().StringVar(&postPlatform, "platform", "", "platform name (linkedin or x)")
	postCmd.Flags().StringVar(&postUser, "user", "", "local user id with stored credentials")
	postCmd.Flags().StringVar(&postQuery, "query", "", "research query")
	postCmd.Flags().IntVar(&postMaxLength, "max-length", 0, "length budget (defaults to the platform maximum)")
	postCmd.Flags().StringVar(&postHashtags, "hashtags", "", "hashtag policy (defaults to the platform default)")
	postCmd.Flags().BoolVar(&postReview, "review", false, "review the post in the terminal before publishing")
	_ = postCmd.MarkFlagRequired("platform")
	_ = postCmd.MarkFlagRequired("user")
	_ = postCmd.MarkFlagRequired("query")

	researchCmd.Flags().StringVar(&researchQuery, "query", "", "research query")
	_ = researchCmd.MarkFlagRequired("query")

	rootCmd.AddCommand(serveCmd, authorizeCmd, researchCmd, postCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Log.Info("starting server",
		zap.String("version", Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := newServer(cfg, a)
	errCh := startServer(srv)

	fmt.Printf(`
  research2post %s
  Server:    http://%s
  Health:    http://%s/health
  Platforms: %s

`, Version, srv.Addr, srv.Addr, strings.Join(a.registry.Names(), ", "))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return shutdown(srv)
}

// runAuthorize serves the callback route in-process so the PKCE verifier
// created here is still present when the platform redirects back.
func runAuthorize(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(strings.ToLower(authPlatform))
	if err != nil {
		return err
	}
	authURL, err := svc.StartAuthorization(ctx, authUser)
	if err != nil {
		return err
	}

	srv := newServer(cfg, a)
	errCh := startServer(srv)
	defer shutdown(srv)

	fmt.Printf("Open this URL to authorize %s for %q:\n\n  %s\n\nWaiting for the callback on %s ...\n",
		svc.Platform().DisplayName, authUser, authURL, svc.Platform().RedirectURI)

	ctx, cancel := context.WithTimeout(ctx, authWait)
	defer cancel()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return fmt.Errorf("no authorization received: %w", ctx.Err())
		case <-ticker.C:
			cred, ok, err := a.store.Get(ctx, svc.Platform().Name, authUser)
			if err != nil {
				return err
			}
			if ok {
				fmt.Printf("Authorized %s as %s\n", authUser, cred.PlatformIdentity)
				return nil
			}
		}
	}
}

func runResearch(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	out := a.researcher.Invoke(ctx, researchQuery)
	if agent.IsErrorText(out) {
		return errors.New(out)
	}
	fmt.Println(out)
	return nil
}

func runPost(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var reviewers reviewerFunc
	if postReview {
		reviewers = func(p *platform.Platform) review.Reviewer {
			return review.NewTerminalReviewer(p.DisplayName)
		}
	}
	a, err := buildApp(ctx, cfg, reviewers)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(strings.ToLower(postPlatform))
	if err != nil {
		return err
	}
	res := svc.ResearchAndPublish(ctx, workflow.Request{
		UserID:        postUser,
		Query:         postQuery,
		MaxLength:     postMaxLength,
		HashtagPolicy: postHashtags,
		EnableReview:  postReview,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status == models.StatusError {
		return errors.New(res.Message)
	}
	return nil
}

func newServer(cfg *config.Config, a *app) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Instrumented(handler.New(a.services, logger.Named("http"))),
		ReadTimeout:  config.Seconds(cfg.Server.ReadTimeout),
		WriteTimeout: config.Seconds(cfg.Server.WriteTimeout),
		IdleTimeout:  120 * time.Second,
	}
}

func startServer(srv *http.Server) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

func shutdown(srv *http.Server) error {
	logger.Log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Log.Info("server stopped")
	return nil
}
