package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/config"
)

func TestExecuteContext_CancelReachesCommand(t *testing.T) {
	started := make(chan struct{})
	root := &cobra.Command{Use: "mailtracker"}
	root.AddCommand(&cobra.Command{
		Use: "block",
		RunE: func(cmd *cobra.Command, _ []string) error {
			close(started)
			<-cmd.Context().Done()
			return cmd.Context().Err()
		},
	})
	root.SetArgs([]string{"block"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("command never ran")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command did not return after cancel")
	}
}

func TestIsConfigError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", &config.ValidationError{Field: "graph.tenant_id", Message: "not set"}, true},
		{"wrapped validation", fmt.Errorf("sync: %w", &config.ValidationError{Field: "x"}), true},
		{"tagged", configError(errors.New("config file not found")), true},
		{"runtime", errors.New("list messages: 503"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConfigError(tt.err); got != tt.want {
				t.Errorf("IsConfigError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigError_NilAndIdempotent(t *testing.T) {
	if configError(nil) != nil {
		t.Error("configError(nil) should be nil")
	}
	err := configError(errors.New("bad"))
	if again := configError(err); again != err {
		t.Errorf("configError wrapped twice: %v", again)
	}
}
