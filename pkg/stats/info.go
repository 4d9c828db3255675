package stats

import (
	"fmt"
	"time"
)

// Info is the body of the info endpoint.
type Info struct {
	Value map[string]any    `json:"value"`
	Desc  map[string]string `json:"desc"`
}

var infoDesc = map[string]string{
	"service":         "service name",
	"start":           "start time",
	"running":         "running time",
	"task":            "total task count",
	"task_today":      "task count today",
	"cur_task":        "current task count",
	"avg_time":        "average task time (ms)",
	"avg_time_today":  "average task time today (ms)",
	"avg_time_recent": "average time of recent tasks (ms)",
	"skip_task":       "total skipped task count",
	"skip_task_today": "skipped task count today",
	"goroutine_count": "goroutine count",
}

// Info renders the snapshot with a description per key.
func (snap Snapshot) Info() Info {
	desc := make(map[string]string, len(infoDesc))
	for k, v := range infoDesc {
		desc[k] = v
	}
	return Info{
		Value: map[string]any{
			"service":         snap.Service,
			"start":           snap.StartTime.Format(time.DateTime),
			"running":         formatRunning(snap.Running),
			"task":            snap.TaskTotal,
			"task_today":      snap.TaskToday,
			"cur_task":        snap.CurTask,
			"avg_time":        round2(snap.AvgTime),
			"avg_time_today":  round2(snap.AvgTimeToday),
			"avg_time_recent": round2(snap.AvgTimeRecent),
			"skip_task":       snap.SkipTotal,
			"skip_task_today": snap.SkipToday,
			"goroutine_count": snap.Goroutines,
		},
		Desc: desc,
	}
}

// formatRunning renders d as "Nd HH:MM:SS".
func formatRunning(d time.Duration) string {
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	return fmt.Sprintf("%dd %02d:%02d:%02d", days, secs/3600, secs%3600/60, secs%60)
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
