package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-seat-broker/internal/client/api"
	"github.com/go-seat-broker/internal/client/flow"
	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:   "claim <order-item-id>",
	Short: "Get a login code for a seat and report the outcome",
	Long: `Requests a login code for the seat bought with the given order item,
waiting for a fresh code window when the current one is nearly spent.

Once the code is used, seatctl asks whether the login worked and reports
the answer. A failed first attempt can be retried once.`,
	Args: cobra.ExactArgs(1),
	RunE: runClaim,
}

func runClaim(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	views := make(chan flow.View, 16)
	f := flow.New(ctx, api.New(serverURL, authToken), args[0], flow.OnChange(func(v flow.View) {
		views <- v
	}))
	defer f.Close()

	lines := make(chan string)
	go readLines(ctx, cmd.InOrStdin(), lines)

	if err := f.Start(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			if !f.CanDismiss() {
				fmt.Fprintln(out, "\nInterrupted. The seat keeps its last saved state.")
			}
			return ctx.Err()

		case v := <-views:
			renderView(out, v)
			switch v.State {
			case flow.Success, flow.Locked:
				return nil
			case flow.Denied:
				if v.Recovery != api.RecoveryRetry && v.Recovery != api.RecoveryReload {
					return fmt.Errorf("request denied: %s", v.Message)
				}
			}

		case line, ok := <-lines:
			if !ok {
				if f.CanDismiss() {
					return nil
				}
				return errors.New("input closed before the outcome was reported")
			}
			if err := handleLine(f, strings.TrimSpace(strings.ToLower(line))); err != nil {
				fmt.Fprintf(out, "%v\n", err)
			}
		}
	}
}

func handleLine(f *flow.Flow, line string) error {
	switch f.State() {
	case flow.CodeDisplayed:
		return f.DoneWithCode()
	case flow.AwaitingConfirmation:
		switch line {
		case "y", "yes":
			return f.Confirm(true)
		case "n", "no":
			return f.Confirm(false)
		}
		return errors.New("please answer y or n")
	case flow.FailedRetry, flow.Denied:
		return f.Start()
	}
	return nil
}

func renderView(w io.Writer, v flow.View) {
	switch v.State {
	case flow.WaitingForWindow:
		if v.Deadline.IsZero() {
			fmt.Fprintln(w, "Checking the code window...")
			return
		}
		if v.Message != "" {
			fmt.Fprintf(w, "%s. ", v.Message)
		}
		fmt.Fprintf(w, "Waiting %ds for a fresh code...\n", secondsUntil(v.Deadline))
	case flow.CodeDisplayed:
		final := ""
		if v.IsFinalAttempt {
			final = ", final attempt"
		}
		fmt.Fprintf(w, "\n    %s\n\nAttempt %d%s. Valid for %ds.\n", v.Code, v.Attempt, final, secondsUntil(v.Deadline))
		fmt.Fprintln(w, "Press enter once you have entered the code.")
	case flow.AwaitingConfirmation:
		if v.Message != "" {
			fmt.Fprintf(w, "%s.\n", v.Message)
		}
		fmt.Fprint(w, "Did the login succeed? [y/n] ")
	case flow.Success:
		fmt.Fprintln(w, "Login confirmed.")
	case flow.FailedRetry:
		if v.Message != "" {
			fmt.Fprintf(w, "%s. ", v.Message)
		}
		fmt.Fprintf(w, "Recorded as failed. %d attempt(s) left. Press enter for a new code.\n", v.AttemptsRemaining)
	case flow.Locked:
		fmt.Fprintf(w, "This seat is locked (%s). Please contact support.\n", v.LockReason)
	case flow.Denied:
		fmt.Fprintf(w, "Request failed: %s\n", v.Message)
		if v.Recovery == api.RecoveryRetry || v.Recovery == api.RecoveryReload {
			fmt.Fprintln(w, "Press enter to try again.")
		}
	}
}

// readLines forwards input lines until r ends or ctx is done. A read already
// blocked on r is only released when r returns.
func readLines(ctx context.Context, r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

func secondsUntil(t time.Time) int {
	return int(math.Ceil(time.Until(t).Seconds()))
}
