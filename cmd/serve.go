package cmd

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tempo-sim/tempo-sim/vtime"
)

var (
	serveAddr    string
	tickEvery    time.Duration // real pacing between steps
	tickSlice    time.Duration // simulated time advanced per step
	registerOnce sync.Once
)

// Prometheus gauges mirroring the scheduler counters
var promMetrics = struct {
	tasksSpawned   prometheus.Gauge
	tasksCompleted prometheus.Gauge
	tasksFailed    prometheus.Gauge
	tasksCancelled prometheus.Gauge
	polls          prometheus.Gauge
	timerFires     prometheus.Gauge
	fastForwards   prometheus.Gauge
	clockNow       prometheus.Gauge
}{
	tasksSpawned: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtime_tasks_spawned",
		Help: "Tasks registered with the scheduler",
	}),
	tasksCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtime_tasks_completed",
		Help: "Tasks that completed successfully",
	}),
	tasksFailed: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtime_tasks_failed",
		Help: "Tasks that panicked or returned an error",
	}),
	tasksCancelled: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtime_tasks_cancelled",
		Help: "Tasks cancelled before completion",
	}),
	polls: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtime_polls_total",
		Help: "Task polls performed by the scheduler loop",
	}),
	timerFires: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtime_timer_fires_total",
		Help: "Timer deadlines that fired",
	}),
	fastForwards: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtime_clock_fast_forwards_total",
		Help: "Idle fast-forwards of the simulated clock",
	}),
	clockNow: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtime_clock_now_seconds",
		Help: "Current simulated clock reading",
	}),
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// ServerMessage is one websocket frame of scheduler state.
type ServerMessage struct {
	Type    string                 `json:"type"`
	Now     string                 `json:"now,omitempty"`
	Metrics *vtime.MetricsSnapshot `json:"metrics,omitempty"`
}

// serveCmd exposes a paced replay of a script over /ws plus /metrics.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a paced script replay over websocket with Prometheus metrics",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		registerOnce.Do(registerPromMetrics)

		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/ws", handleWS)

		logrus.Infof("Serving on %s (websocket /ws, prometheus /metrics)", serveAddr)
		if err := http.ListenAndServe(serveAddr, nil); err != nil {
			logrus.Fatalf("Server failed: %v", err)
		}
	},
}

func registerPromMetrics() {
	prometheus.MustRegister(
		promMetrics.tasksSpawned,
		promMetrics.tasksCompleted,
		promMetrics.tasksFailed,
		promMetrics.tasksCancelled,
		promMetrics.polls,
		promMetrics.timerFires,
		promMetrics.fastForwards,
		promMetrics.clockNow,
	)
}

func updatePromMetrics(now vtime.Timestamp, snap vtime.MetricsSnapshot) {
	promMetrics.tasksSpawned.Set(float64(snap.TasksSpawned))
	promMetrics.tasksCompleted.Set(float64(snap.TasksCompleted))
	promMetrics.tasksFailed.Set(float64(snap.TasksFailed))
	promMetrics.tasksCancelled.Set(float64(snap.TasksCancelled))
	promMetrics.polls.Set(float64(snap.Polls))
	promMetrics.timerFires.Set(float64(snap.TimerFires))
	promMetrics.fastForwards.Set(float64(snap.ClockFastForwards))
	promMetrics.clockNow.Set(time.Duration(now).Seconds())
}

// handleWS replays the configured script paced by a real ticker, streaming a
// state frame per step. Each connection gets its own fresh scheduler.
func handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sc, err := loadScript()
	if err != nil {
		logrus.Errorf("Unable to load script: %v", err)
		return
	}
	cfg, err := loadConfig()
	if err != nil {
		logrus.Errorf("Unable to load config: %v", err)
		return
	}

	clock := vtime.NewSimClock()
	sched := vtime.NewScheduler(clock, cfg)
	for _, st := range sc.Steps {
		if fut, ok := st.Spawnable(clock); ok {
			sched.Spawn(fut)
		}
	}

	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	for range ticker.C {
		clock.Advance(tickSlice)
		sched.RunReady()

		snap := sched.Metrics().Snapshot()
		now := clock.Now()
		updatePromMetrics(now, snap)

		msg := ServerMessage{Type: "state", Now: now.String(), Metrics: &snap}
		if err := conn.WriteJSON(msg); err != nil {
			logrus.Debugf("Websocket write failed, dropping client: %v", err)
			return
		}

		if snap.TasksCompleted+snap.TasksFailed+snap.TasksCancelled == snap.TasksSpawned {
			_ = conn.WriteJSON(ServerMessage{Type: "done", Now: now.String(), Metrics: &snap})
			return
		}
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&scriptPath, "script", "", "Path to a YAML scenario script (built-in demo when empty)")
	serveCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	serveCmd.Flags().DurationVar(&tickEvery, "tick-every", 100*time.Millisecond, "Real time between replay steps")
	serveCmd.Flags().DurationVar(&tickSlice, "tick-slice", 10*time.Millisecond, "Simulated time advanced per step")

	rootCmd.AddCommand(serveCmd)
}
