package domain

import "fmt"

// Task is one of the fixed classification problems the service scores.
type Task int

const (
	MajorEarthquake Task = iota
	SignificantEvent
	TsunamiRisk
)

// AllTasks lists every task in canonical order.
var AllTasks = []Task{MajorEarthquake, SignificantEvent, TsunamiRisk}

var taskNames = [...]string{"major_earthquake", "significant_earthquake", "tsunami_generating"}

// String returns the task's wire name, which is also its bundle directory name.
func (t Task) String() string {
	if t < MajorEarthquake || t > TsunamiRisk {
		return fmt.Sprintf("task(%d)", int(t))
	}
	return taskNames[t]
}

// ParseTask resolves a wire name to a Task.
func ParseTask(s string) (Task, error) {
	for i, name := range taskNames {
		if name == s {
			return Task(i), nil
		}
	}
	return 0, fmt.Errorf("unknown task %q", s)
}

func (t Task) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Task) UnmarshalText(b []byte) error {
	parsed, err := ParseTask(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
