package builtin

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"schedd/internal/sched"
	"schedd/pkg/logx"
	"schedd/pkg/speedtest"
)

// lightColors are the colors the protocol service understands.
var lightColors = []string{"red", "blue", "green", "yellow", "white", "purple", "orange", "pink"}

// builtinAction is one registry entry. Aliases carry the historical
// camelCase names, so stored events created by older deployments keep
// firing after an upgrade.
type builtinAction struct {
	name    string
	aliases []string
	run     sched.ActionFunc
}

func registerActions(reg *sched.Registry, deps Deps, log logx.Logger) {
	actions := []builtinAction{
		{name: "hello", run: func() {
			log.Debug("hello action fired")
		}},
		{name: "fetch_example", aliases: []string{"fetchExample"}, run: fetchExample(log)},
		{name: "protocol_run", aliases: []string{"callJarvisApi"},
			run: postProtocol(deps, log, "Dim All Lights", nil)},
		{name: "lights_on", aliases: []string{"lightsOn"},
			run: postProtocol(deps, log, "lights_on", nil)},
		{name: "lights_off", aliases: []string{"lightsOff"},
			run: postProtocol(deps, log, "lights_off", nil)},
		{name: "speedtest", run: speedtestAction(deps, log)},
	}
	for _, color := range lightColors {
		actions = append(actions, builtinAction{
			name:    "lights_" + color,
			aliases: []string{"lights" + strings.ToUpper(color[:1]) + color[1:]},
			run:     postProtocol(deps, log, "Light Color Control", map[string]any{"color": color}),
		})
	}

	for _, a := range actions {
		reg.RegisterAction(a.name, a.run)
		for _, alias := range a.aliases {
			reg.RegisterAction(alias, a.run)
		}
	}
}

// postProtocol returns an action that fires one protocol invocation at the
// configured endpoint. Failures are logged, never propagated; the dispatch
// loop treats actions as fire-and-forget.
func postProtocol(deps Deps, log logx.Logger, protocol string, args map[string]any) sched.ActionFunc {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := deps.Hook.PostProtocol(ctx, deps.ProtocolURL, protocol, args); err != nil {
			log.Warn("protocol post failed",
				logx.String("protocol", protocol),
				logx.Err(err),
			)
			return
		}
		log.Debug("protocol posted", logx.String("protocol", protocol))
	}
}

// fetchExample fetches example.com and logs the first few lines. Kept as a
// harmless end-to-end probe for the action path.
func fetchExample(log logx.Logger) sched.ActionFunc {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.com", nil)
		if err != nil {
			log.Warn("fetch_example request build failed", logx.Err(err))
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Warn("fetch_example failed", logx.Err(err))
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		log.Info("fetch_example",
			logx.Int("status", resp.StatusCode),
			logx.String("head", firstLines(string(body), 5)),
		)
	}
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// speedtestAction runs a bandwidth measurement, logs the outcome and keeps
// the latest result in the settings store for the stats route.
func speedtestAction(deps Deps, log logx.Logger) sched.ActionFunc {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		res, err := speedtest.Run(ctx, speedtest.Options{}, log)
		if err != nil {
			log.Warn("speedtest failed", logx.Err(err))
			return
		}
		log.Info("speedtest complete",
			logx.Float64("down_mbps", res.DownloadMbps),
			logx.Float64("up_mbps", res.UploadMbps),
			logx.Float64("ping_ms", res.PingMs),
			logx.String("server", res.ServerName),
		)

		if deps.Store == nil {
			return
		}
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := deps.Store.SetString(sctx, SettingsKeySpeedtest, res.JSON()); err != nil {
			log.Warn("speedtest result not persisted", logx.Err(err))
		}
	}
}
