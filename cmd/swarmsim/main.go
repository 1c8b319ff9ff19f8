// swarmsim drives the communication core through a scripted simulation:
// a fixed number of agents random-walk on a plane, the topology is
// recomputed and messages broadcast each tick, and a summary is logged.
package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"dev.swarmcore.comm/internal/agent"
	"dev.swarmcore.comm/internal/comm"
	"dev.swarmcore.comm/internal/msg"
	"dev.swarmcore.comm/internal/netsim"
)

func main() {
	var (
		numAgents int
		ticks     int
		seed      int64
		stepSize  float64
		preset    string
		logLevel  string
	)

	flag.IntVar(&numAgents, "agents", 20, "number of simulated agents")
	flag.IntVar(&ticks, "ticks", 50, "number of simulation ticks to run")
	flag.Int64Var(&seed, "seed", 1, "random seed for agent motion and link simulation")
	flag.Float64Var(&stepSize, "step", 10, "maximum per-tick movement distance")
	flag.StringVar(&preset, "preset", "realistic", "network preset: high-quality, realistic, poor")
	flag.StringVar(&logLevel, "log-level", "info", "logrus level")
	flag.Parse()

	logger := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	engine := comm.New(comm.Config{
		Netsim:     presetConfig(preset),
		RandSource: netsim.NewDefaultRand(seed),
		Logger:     logger,
	})

	rng := rand.New(rand.NewSource(seed))
	states := initialStates(numAgents, rng)

	for id := range states {
		id := id
		engine.RegisterListener(int64(id)+1, func(im *msg.IncomingMessage) {
			logger.WithFields(logrus.Fields{
				"receiver_id": im.ReceiverID,
				"sender_id":   im.OriginalSenderID,
				"signal":      im.SignalStrength,
			}).Debug("message delivered")
		})
	}

	ctx := context.Background()
	for tick := 0; tick < ticks; tick++ {
		walk(states, stepSize, rng)

		if err := engine.UpdateTopology(ctx, states); err != nil {
			logger.WithError(err).Fatal("updateTopology failed")
		}

		for _, s := range states {
			statusMsg := msg.NewMessage(msg.TypeStatusUpdate, nil, map[string]any{"priority": 3, "ttl": 1000})
			engine.SendMessage(msg.NewOutgoingMessage(statusMsg, s.AgentID, msg.BroadcastReceiver, 1, time.Now()))
		}
		engine.ProcessMessages(ctx)

		snap := engine.MetricsSnapshot()
		partitions := engine.Partitions()
		logger.WithFields(logrus.Fields{
			"tick":            tick,
			"messages_per_sec": snap.MessagesPerSecond,
			"pending":         snap.PendingCount,
			"partitions":      len(partitions),
		}).Info("tick complete")
	}
}

func presetConfig(name string) netsim.Config {
	switch name {
	case "high-quality":
		return netsim.HighQualityPreset()
	case "poor":
		return netsim.PoorPreset()
	default:
		return netsim.RealisticPreset()
	}
}

func initialStates(n int, rng *rand.Rand) []agent.State {
	states := make([]agent.State, n)
	for i := range states {
		states[i] = agent.State{
			AgentID:        int64(i) + 1,
			Position:       agent.Position{X: rng.Float64() * 500, Y: rng.Float64() * 500},
			Status:         agent.StatusActive,
			LastUpdateTime: time.Now(),
		}
	}
	return states
}

func walk(states []agent.State, stepSize float64, rng *rand.Rand) {
	for i := range states {
		states[i].Position.X += (rng.Float64()*2 - 1) * stepSize
		states[i].Position.Y += (rng.Float64()*2 - 1) * stepSize
		states[i].LastUpdateTime = time.Now()
	}
}
