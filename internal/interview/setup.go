package interview

import (
	"context"
	"fmt"

	"github.com/MrWong99/interviewer/internal/observe"
	"github.com/MrWong99/interviewer/pkg/robot"
)

// Setup performs the one-shot system preparation before an interview:
// unmute the speaker, set the output volume, and switch autonomous behaviour
// off when it is not already disabled (autonomy arbitration interferes with
// speech recognition). Every failure wraps [robot.ErrUnavailable].
func Setup(ctx context.Context, sys robot.SystemControl, volume int) error {
	log := observe.Logger(ctx)

	if err := sys.SetMuted(ctx, false); err != nil {
		return fmt.Errorf("interview: unmute audio: %w: %w", robot.ErrUnavailable, err)
	}
	if err := sys.SetVolume(ctx, volume); err != nil {
		return fmt.Errorf("interview: set volume: %w: %w", robot.ErrUnavailable, err)
	}
	log.Info("audio initialised", "muted", false, "volume", volume)

	state, err := sys.AutonomyState(ctx)
	if err != nil {
		return fmt.Errorf("interview: read autonomy state: %w: %w", robot.ErrUnavailable, err)
	}
	if state == robot.AutonomyDisabled {
		return nil
	}
	if err := sys.SetAutonomyState(ctx, robot.AutonomyDisabled); err != nil {
		return fmt.Errorf("interview: disable autonomy: %w: %w", robot.ErrUnavailable, err)
	}
	log.Info("autonomous behaviour disabled", "previous_state", state)
	return nil
}
