package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v2"

	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/client"
	"codeberg.org/algopatterns/cowrite/internal/logger"
	"codeberg.org/algopatterns/cowrite/internal/tui"
)

func main() {
	app := &cli.App{
		Name:  "cowrite",
		Usage: "edit shared documents together from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				Usage:   "cowrite server base URL",
				EnvVars: []string{"COWRITE_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "access token (see: cowrite token)",
				EnvVars: []string{"COWRITE_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "project",
				Value:   "default",
				Usage:   "project whose rooms are listed",
				EnvVars: []string{"COWRITE_PROJECT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "edit",
				Usage: "open the interactive editor",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "name",
						Usage:   "display name shown to other participants",
						EnvVars: []string{"COWRITE_NAME"},
					},
					&cli.StringFlag{
						Name:    "outbox",
						Usage:   "file keeping unsent edits across restarts (defaults to ~/.cowrite/outbox.db)",
						EnvVars: []string{"COWRITE_OUTBOX"},
					},
					&cli.StringFlag{
						Name:    "log-file",
						Usage:   "write client logs here instead of discarding them",
						EnvVars: []string{"COWRITE_LOG_FILE"},
					},
				},
				Action: runEditor,
			},
			{
				Name:  "rooms",
				Usage: "list or create rooms",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list rooms in the project",
						Action: listRooms,
					},
					{
						Name:      "create",
						Usage:     "create a room",
						ArgsUsage: "<title>",
						Action:    createRoom,
					},
				},
			},
			{
				Name:  "token",
				Usage: "mint a token for a local server that shares the secret",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "secret",
						Usage:    "the server's JWT_SECRET",
						EnvVars:  []string{"JWT_SECRET"},
						Required: true,
					},
					&cli.StringFlag{
						Name:     "user",
						Usage:    "user id to embed",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "display name to embed",
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Value: 24 * time.Hour,
						Usage: "token lifetime",
					},
				},
				Action: mintToken,
			},
		},
		DefaultCommand: "edit",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cowrite: %v\n", err)
		os.Exit(1)
	}
}

func runEditor(c *cli.Context) error {
	claims, err := tokenClaims(c.String("token"))
	if err != nil {
		return err
	}

	log, closeLog, err := openLog(c.String("log-file"))
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	outboxPath := c.String("outbox")
	if outboxPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to locate home directory: %w", err)
		}
		outboxPath = filepath.Join(home, ".cowrite", "outbox.db")
	}

	if err := os.MkdirAll(filepath.Dir(outboxPath), 0o700); err != nil {
		return fmt.Errorf("failed to create outbox directory: %w", err)
	}

	outbox, err := client.OpenBoltOutbox(outboxPath)
	if err != nil {
		return err
	}
	defer outbox.Close() //nolint:errcheck

	wsURL, err := websocketURL(c.String("server"))
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}

	name := c.String("name")
	if name == "" {
		name = claims.DisplayName
	}

	app := tui.NewApp(tui.Config{
		ProjectID: c.String("project"),
		UserID:    claims.UserID,
		Rooms:     tui.NewRoomsClient(c.String("server"), c.String("token")),
		Connect: newConnector(client.Options{
			URL:         wsURL,
			Token:       c.String("token"),
			UserID:      claims.UserID,
			DisplayName: name,
		}, outbox, log),
	})

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running cowrite: %w", err)
	}

	return nil
}

func listRooms(c *cli.Context) error {
	rooms := tui.NewRoomsClient(c.String("server"), c.String("token"))

	list, err := rooms.ListRooms(c.String("project"))
	if err != nil {
		return err
	}

	for _, room := range list {
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", room.ID, room.Title)
	}

	return nil
}

func createRoom(c *cli.Context) error {
	rooms := tui.NewRoomsClient(c.String("server"), c.String("token"))

	room, err := rooms.CreateRoom(c.String("project"), c.Args().First())
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, room.ID)
	return nil
}

func mintToken(c *cli.Context) error {
	token, err := auth.NewTokenIssuer(c.String("secret"), c.Duration("ttl")).
		Generate(c.String("user"), c.String("name"))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, token)
	return nil
}

// reads the user out of the token; the server verifies the signature
func tokenClaims(token string) (*auth.Claims, error) {
	if token == "" {
		return nil, errors.New("a token is required: pass --token or set COWRITE_TOKEN")
	}

	claims := &auth.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}

	if claims.UserID == "" {
		return nil, errors.New("token carries no user_id")
	}

	return claims, nil
}

// the TUI owns the terminal, so logs go to a file or nowhere
func openLog(path string) (*slog.Logger, func() error, error) {
	if path == "" {
		return logger.New("development", "info", io.Discard), func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return logger.New("development", "debug", f), f.Close, nil
}
