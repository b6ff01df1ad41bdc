package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cloo-solutions/interviewcoach/internal/api/handlers"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// StartCmd opens a new session
func StartCmd() *cobra.Command {
	var req handlers.StartSessionRequest

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a practice session for one interview question",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var s handlers.SessionResponse
			if err := c.Post(cmdContext(cmd), "/sessions", req, &s); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s started (%s)\n", s.ID, s.State)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Question, "question", "q", "", "Interview question being answered")
	cmd.Flags().StringVarP(&req.Title, "title", "t", "", "Session title")
	cmd.Flags().StringVarP(&req.UserID, "user", "u", "", "User the session belongs to")
	cmd.Flags().StringVar(&req.AudioFormat, "format", "", "Audio container format (default m4a)")
	_ = cmd.MarkFlagRequired("question")

	return cmd
}

// StreamCmd uploads a recorded answer over the audio channel
func StreamCmd() *cobra.Command {
	var (
		file      string
		chunkSize int
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "stream <session-id>",
		Short: "Stream a recorded answer into a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read audio file: %w", err)
			}
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var onMessage func(handlers.StreamMessage)
			if verbose {
				onMessage = func(msg handlers.StreamMessage) { printStreamMessage(out, msg) }
			}

			result, err := c.StreamAudio(cmdContext(cmd), args[0], data, chunkSize, onMessage)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(out, result)
			}
			fmt.Fprintf(out, "Sent %d chunks from %s, session is %s\n", result.Chunks, filepath.Base(file), result.State)
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "  warning %s: %s\n", w.Code, w.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Audio file to send")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", DefaultChunkSize, "Bytes per audio frame")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every server message")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// CompleteCmd requests feedback and waits for it
func CompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <session-id>",
		Short: "Generate feedback for a transcribed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var fb handlers.FeedbackResponse
			if err := c.Post(cmdContext(cmd), "/sessions/"+url.PathEscape(args[0])+"/complete", nil, &fb); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), fb)
			}
			printFeedback(cmd.OutOrStdout(), fb)
			return nil
		},
	}
}

// ShowCmd prints one session
func ShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's state and feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var s handlers.SessionResponse
			if err := c.Get(cmdContext(cmd), "/sessions/"+url.PathEscape(args[0]), &s); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), s)
			}
			printSession(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

// ListCmd prints a user's sessions with progress stats
func ListCmd() *cobra.Command {
	var (
		userID string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions and progress stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			query := url.Values{}
			if userID != "" {
				query.Set("user_id", userID)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if cursor != "" {
				query.Set("cursor", cursor)
			}
			path := "/sessions"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}
			var list handlers.SessionListResponse
			if err := c.Get(cmdContext(cmd), path, &list); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), list)
			}
			printList(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only sessions of this user")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Page size (server default 20)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	return cmd
}

// CancelCmd abandons a session
func CancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var st handlers.StateResponse
			if err := c.Post(cmdContext(cmd), "/sessions/"+url.PathEscape(args[0])+"/cancel", nil, &st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s is %s\n", st.ID, st.State)
			return nil
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStreamMessage(w io.Writer, msg handlers.StreamMessage) {
	switch msg.Type {
	case handlers.MessageAck:
		flag := ""
		if msg.Duplicate {
			flag = " (duplicate)"
		}
		if msg.Sequence != nil {
			fmt.Fprintf(w, "ack %d%s\n", *msg.Sequence, flag)
		}
	case handlers.MessageWarning:
		fmt.Fprintf(w, "%s %s: %s\n", warnColor.Sprint(msg.Type), msg.Code, msg.Message)
	case handlers.MessageError:
		fmt.Fprintf(w, "%s %s: %s\n", badColor.Sprint(msg.Type), msg.Code, msg.Message)
	case handlers.MessageState:
		fmt.Fprintf(w, "state %s\n", stateColor(msg.State).Sprint(msg.State))
	}
}

func printFeedback(w io.Writer, fb handlers.FeedbackResponse) {
	fmt.Fprintf(w, "Overall: %s/100\n", scoreColor(fb.OverallScore).Sprintf("%.1f", fb.OverallScore))
	fmt.Fprintf(w, "  Communication %s  Technical %s  Clarity %s\n",
		scoreColor(fb.CommunicationScore).Sprintf("%.0f", fb.CommunicationScore),
		scoreColor(fb.TechnicalScore).Sprintf("%.0f", fb.TechnicalScore),
		scoreColor(fb.ClarityScore).Sprintf("%.0f", fb.ClarityScore))
	printBullets(w, "Strengths", fb.Strengths)
	printBullets(w, "Improvements", fb.Improvements)
	if fb.DetailedFeedback != "" {
		fmt.Fprintf(w, "\n%s\n", fb.DetailedFeedback)
	}
}

func printSession(w io.Writer, s handlers.SessionResponse) {
	fmt.Fprintf(w, "Session:  %s\n", s.ID)
	if s.Title != "" {
		fmt.Fprintf(w, "Title:    %s\n", s.Title)
	}
	fmt.Fprintf(w, "Question: %s\n", s.Question)
	fmt.Fprintf(w, "State:    %s\n", stateColor(s.State).Sprint(s.State))
	if s.FailureReason != "" {
		fmt.Fprintf(w, "Failure:  %s (%s)\n", badColor.Sprint(s.FailureReason), s.FailureMessage)
	}
	if s.Transcript != "" {
		fmt.Fprintf(w, "Transcript:\n  %s\n", s.Transcript)
	}
	if s.OverallScore != nil && s.Scores != nil {
		printFeedback(w, handlers.FeedbackResponse{
			CommunicationScore: s.Scores.Communication,
			TechnicalScore:     s.Scores.Technical,
			ClarityScore:       s.Scores.Clarity,
			OverallScore:       *s.OverallScore,
			Strengths:          s.Strengths,
			Improvements:       s.Improvements,
			DetailedFeedback:   s.DetailedFeedback,
		})
	}
	for _, warning := range s.Warnings {
		fmt.Fprintf(w, "%s %s at chunk %d: %s\n", warnColor.Sprint("warning"), warning.Code, warning.Sequence, warning.Message)
	}
}

func printBullets(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

func printList(w io.Writer, list handlers.SessionListResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATE\tDATE\tDURATION\tSCORE")
	for _, s := range list.Sessions {
		score := "-"
		if s.Score != nil {
			score = fmt.Sprintf("%.1f", *s.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, orDash(s.Title), s.State, s.Date, orDash(s.Duration), score)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d sessions, average %.2f, improvement %+.2f\n",
		list.Stats.Total, list.Stats.Average, list.Stats.Improvement)
	if list.HasMore {
		fmt.Fprintf(w, "more: --cursor %s\n", list.Cursor)
	}
}

// Colors are dropped automatically when stdout is not a terminal or NO_COLOR is set
var (
	goodColor = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

// scoreColor bands a 0-100 score
func scoreColor(score float64) *color.Color {
	switch {
	case score >= 75:
		return goodColor
	case score >= 50:
		return warnColor
	default:
		return badColor
	}
}

func stateColor(state string) *color.Color {
	switch state {
	case string(domain.SessionStateCompleted):
		return goodColor
	case string(domain.SessionStateFailed):
		return badColor
	default:
		return dimColor
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
