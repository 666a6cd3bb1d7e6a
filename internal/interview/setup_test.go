package interview

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/interviewer/pkg/robot"
	"github.com/MrWong99/interviewer/pkg/robot/mock"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name      string
		state     string
		wantSets  []string
		wantState string
	}{
		{"disables autonomy", "solitary", []string{robot.AutonomyDisabled}, robot.AutonomyDisabled},
		{"already disabled", robot.AutonomyDisabled, nil, robot.AutonomyDisabled},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sys := &mock.System{State: tc.state}

			if err := Setup(context.Background(), sys, 80); err != nil {
				t.Fatalf("Setup: %v", err)
			}
			if !slices.Equal(sys.MuteCalls, []bool{false}) {
				t.Errorf("mute calls = %v, want [false]", sys.MuteCalls)
			}
			if !slices.Equal(sys.VolumeCalls, []int{80}) {
				t.Errorf("volume calls = %v, want [80]", sys.VolumeCalls)
			}
			if !slices.Equal(sys.StateSets, tc.wantSets) {
				t.Errorf("state sets = %v, want %v", sys.StateSets, tc.wantSets)
			}
			if sys.State != tc.wantState {
				t.Errorf("state = %q, want %q", sys.State, tc.wantState)
			}
		})
	}
}

func TestSetup_Failures(t *testing.T) {
	errDown := errors.New("broken pipe")

	tests := []struct {
		name string
		sys  *mock.System
	}{
		{"mute", &mock.System{MuteErr: errDown}},
		{"volume", &mock.System{VolumeErr: errDown}},
		{"read state", &mock.System{StateErr: errDown}},
		{"set state", &mock.System{State: "solitary", SetErr: errDown}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Setup(context.Background(), tc.sys, 50)
			if !errors.Is(err, robot.ErrUnavailable) {
				t.Errorf("err = %v, want ErrUnavailable", err)
			}
			if !errors.Is(err, errDown) {
				t.Errorf("err = %v, want wrapped cause", err)
			}
		})
	}
}

func TestSetup_StopsAtFirstFailure(t *testing.T) {
	sys := &mock.System{MuteErr: errors.New("no audio device")}

	_ = Setup(context.Background(), sys, 80)
	if len(sys.VolumeCalls) != 0 || len(sys.StateSets) != 0 {
		t.Errorf("continued after mute failure: volume %v, state %v", sys.VolumeCalls, sys.StateSets)
	}
}
