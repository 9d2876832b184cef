package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"deepresearch/internal/research"
)

func autoConfirm(context.Context, string) (bool, error) { return true, nil }

// promptConfirm shows the plan and reads one answer line. EOF declines.
func promptConfirm(in io.Reader, out io.Writer) research.ConfirmFunc {
	r := bufio.NewReader(in)
	return func(_ context.Context, plan string) (bool, error) {
		fmt.Fprintln(out, research.PlanMessage(plan))
		fmt.Fprint(out, "> ")
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		return affirmative(line), nil
	}
}

func affirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "proceed", "ok", "sure":
		return true
	}
	return false
}
