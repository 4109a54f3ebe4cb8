package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"elsa-quiz-live/internal/channel"
	"elsa-quiz-live/internal/config"
	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/results"
	"elsa-quiz-live/internal/room"
	"elsa-quiz-live/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewHostCmd opens a room for a quiz and drives it as host.
func NewHostCmd(configPath *string) *cobra.Command {
	var quizID, name string
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create a room for a quiz and host it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(*configPath, name)
			if err != nil {
				return err
			}
			entry := room.Entry{Role: domain.RoleHost, QuizID: quizID}
			return runPlay(cmd.Context(), cfg, entry, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&quizID, "quiz", "", "quiz to host")
	cmd.Flags().StringVar(&name, "name", "", "display name (overrides config)")
	_ = cmd.MarkFlagRequired("quiz")
	return cmd
}

// NewJoinCmd joins an existing room as a player.
func NewJoinCmd(configPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "join <room-code>",
		Short: "Join a room as a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(*configPath, name)
			if err != nil {
				return err
			}
			entry := room.Entry{Role: domain.RolePlayer, RoomCode: args[0]}
			return runPlay(cmd.Context(), cfg, entry, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (overrides config)")
	return cmd
}

func loadClientConfig(path, name string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if name != "" {
		cfg.Client.Name = name
	}
	if cfg.Client.Name == "" {
		return cfg, errors.New("display name required: set --name or client.name")
	}
	if cfg.Client.Token == "" {
		return cfg, errors.New("credential required: set QUIZ_TOKEN or client.token")
	}
	return cfg, nil
}

func runPlay(ctx context.Context, cfg config.Config, entry room.Entry, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity := domain.Identity{
		Credential:  cfg.Client.Token,
		DisplayName: cfg.Client.Name,
		AvatarRef:   cfg.Client.Avatar,
		Email:       cfg.Client.Email,
	}
	invokeTimeout := config.Duration(cfg.Client.InvokeTimeout, 10*time.Second)

	chCfg := channel.DefaultConfig(cfg.Client.ServerURL)
	chCfg.InvokeTimeout = invokeTimeout
	if cfg.Client.ReconnectAttempts > 0 {
		chCfg.MaxReconnectAttempts = cfg.Client.ReconnectAttempts
	}
	ch := channel.New(chCfg, identity, channel.WithLogger(log.Logger))
	machine := session.NewMachine(ch,
		session.WithLogger(log.Logger),
		session.WithInvokeTimeout(invokeTimeout),
		session.WithReviewDwell(config.Duration(cfg.Client.ReviewDwell, session.DefaultReviewDwell)),
	)
	defer machine.Close()

	sess, err := machine.Open(ctx, room.New(ch, identity, log.Logger), entry)
	if err != nil {
		var negotiation *domain.NegotiationError
		if errors.As(err, &negotiation) {
			fmt.Fprintf(out, "could not %s room: %v\n", negotiation.Op, negotiation.Err)
		}
		return err
	}
	log.Info().Str("room", sess.RoomCode).Str("role", string(sess.Role)).Msg("session negotiated")

	mailer := results.NewMailer(cfg.Client.APIURL, identity, log.Logger)
	stopInput := make(chan struct{})
	defer close(stopInput)
	lines := readLines(in, stopInput)

	updates, unsubscribe := machine.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r := newRenderer(out)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-machine.Done():
				r.render(machine.Snapshot())
				return nil
			case s, ok := <-updates:
				if !ok {
					return nil
				}
				r.render(s)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return machine.Exit()
			case <-machine.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return machine.Exit()
				}
				if quit := handleCommand(gctx, machine, mailer, sess, line, out); quit {
					return machine.Exit()
				}
			}
		}
	})
	return g.Wait()
}

// handleCommand runs one line of user input and reports whether to leave.
func handleCommand(ctx context.Context, m *session.Machine, mailer *results.Mailer, sess domain.Session, line string, out io.Writer) bool {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
		return false
	case "quit", "exit", "q":
		return true
	case "start":
		report(out, m.StartGame())
		return false
	case "mail":
		if m.Snapshot().Phase != domain.PhaseGameOver {
			fmt.Fprintln(out, "results are available once the game is over")
			return false
		}
		if err := mailer.Send(ctx, sess.RoomCode); err != nil {
			report(out, err)
			return false
		}
		fmt.Fprintln(out, "results sent")
		return false
	}
	if idx, ok := parseOption(cmd); ok {
		report(out, m.SubmitAnswer(idx))
		return false
	}
	fmt.Fprintln(out, "commands: start, a-d (or 0-3), mail, quit")
	return false
}

// parseOption accepts an option letter or a zero-based index.
func parseOption(cmd string) (int, bool) {
	if len(cmd) == 1 && cmd[0] >= 'a' && cmd[0] < 'a'+domain.OptionCount {
		return int(cmd[0] - 'a'), true
	}
	idx, err := strconv.Atoi(cmd)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func report(out io.Writer, err error) {
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
}

// readLines scans in until EOF or until done is closed.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
