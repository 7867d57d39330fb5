// cmd_run.go - Run Command: interaktiver Chat gegen den lokalen Server
// Hauptfunktionen: newRunCmd, ensureServer, ensureModel, chatRepl
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/envconfig"
)

// newRunCmd - Laedt ein Model und startet eine Chat-Schleife
func newRunCmd() *cobra.Command {
	var ctxSize int

	cmd := &cobra.Command{
		Use:   "run MODEL",
		Short: "Chat with a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			client, err := api.ClientFromEnvironment()
			if err != nil {
				return err
			}

			if err := ensureServer(cmd.Context(), client, cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := ensureModel(cmd.Context(), client, name, cmd.OutOrStdout()); err != nil {
				return err
			}

			loadReq := &api.LoadRequest{ModelName: name, CtxSize: ctxSize}
			fmt.Fprintf(cmd.OutOrStdout(), "Loading %s...\n", name)
			if _, err := client.Load(cmd.Context(), loadReq); err != nil {
				return err
			}

			return chatRepl(cmd.Context(), name, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&ctxSize, "ctx-size", 0, "Context length for this session")
	return cmd
}

// ensureServer startet bei Bedarf einen Server als eigenen Prozess und
// wartet bis er erreichbar ist.
func ensureServer(ctx context.Context, client *api.Client, out io.Writer) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := client.Live(pingCtx)
	cancel()
	if err == nil {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Starting lemonade server...")
	serveCmd := exec.Command(exe, "serve")
	serveCmd.Stdout = nil
	serveCmd.Stderr = nil
	if err := serveCmd.Start(); err != nil {
		return fmt.Errorf("could not start server: %w", err)
	}
	// Der Server lebt weiter, wenn die CLI endet
	go serveCmd.Wait() //nolint:errcheck

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := client.Live(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("server did not become ready within 30s")
}

// ensureModel laedt die Model-Dateien herunter, falls sie fehlen.
func ensureModel(ctx context.Context, client *api.Client, name string, out io.Writer) error {
	resp, err := client.List(ctx, true)
	if err != nil {
		return err
	}

	for _, m := range resp.Data {
		if m.ID == name && m.Downloaded {
			return nil
		}
	}

	fmt.Fprintf(out, "Model %s is not downloaded yet, pulling...\n", name)

	var bar *progressbar.ProgressBar
	currentFile := ""
	return client.Pull(ctx, &api.PullRequest{ModelName: name}, func(p api.PullProgress) error {
		if p.File != "" && p.File != currentFile {
			if bar != nil {
				bar.Finish() //nolint:errcheck
			}
			currentFile = p.File
			bar = progressbar.DefaultBytes(int64(p.BytesTotal), fmt.Sprintf("pulling %s", p.File))
		}
		if bar != nil {
			bar.Set64(int64(p.BytesDownloaded)) //nolint:errcheck
		}
		return nil
	})
}

// chatRepl liest Prompts von stdin und streamt die Antworten. Die
// Historie der Sitzung reist bei jedem Request komplett mit.
func chatRepl(ctx context.Context, model string, out io.Writer) error {
	cfg := goopenai.DefaultConfig(envconfig.APIKey())
	base := envconfig.Host()
	if host, port, err := net.SplitHostPort(base.Host); err == nil && (host == "0.0.0.0" || host == "::") {
		base.Host = net.JoinHostPort("localhost", port)
	}
	cfg.BaseURL = base.String() + "/api/v1"
	client := goopenai.NewClientWithConfig(cfg)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Fprintln(out, "Type a prompt, or /bye to exit, /clear to reset the conversation.")
	}

	var history []goopenai.ChatCompletionMessage
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if interactive {
			fmt.Fprint(out, ">>> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/bye" || line == "/exit":
			return nil
		case line == "/clear":
			history = nil
			fmt.Fprintln(out, "Cleared conversation history.")
			continue
		case line == "/?" || line == "/help":
			fmt.Fprintln(out, "Commands:\n  /bye    exit\n  /clear  reset the conversation\n  /?      show this help")
			continue
		}

		history = append(history, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: line,
		})

		stream, err := client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
			Model:    model,
			Messages: history,
			Stream:   true,
		})
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			history = history[:len(history)-1]
			continue
		}

		var reply strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				fmt.Fprintf(out, "\nError: %v\n", err)
				break
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			reply.WriteString(delta)
			fmt.Fprint(out, delta)
		}
		stream.Close()
		fmt.Fprintln(out)

		history = append(history, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleAssistant,
			Content: reply.String(),
		})
	}
}
