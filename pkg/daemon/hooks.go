package daemon

import (
	"fmt"
	"strings"

	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/types"
)

// activityKinds maps bus event kinds to their activity-log type strings.
var activityKinds = map[events.Kind]string{
	events.TaskCreated:       "task_created",
	events.TaskAssigned:      "task_assigned",
	events.TaskStarted:       "task_started",
	events.CheckpointReached: "checkpoint_reached",
	events.TaskCompleted:     "task_completed",
	events.TaskVerified:      "task_verified",
	events.ProgressUpdate:    "progress_update",
	events.DelegationChain:   "delegation_chain",
	events.TrustUpdate:       "trust_update",
	events.SLAWarning:        "sla_warning",
	events.SLABreach:         "sla_breach",
	events.Reassignment:      "reassignment",
}

// subscribeActivity mirrors every bus event into the activity log. Failures
// are logged and isolated; the emitting handler already committed its state.
func (d *Daemon) subscribeActivity() {
	for kind, activityType := range activityKinds {
		at := activityType
		d.Bus.Subscribe(kind, func(ev events.Event) {
			meta := make(map[string]string, len(ev.Payload))
			for k, v := range ev.Payload {
				meta[k] = fmt.Sprint(v)
			}
			_, err := d.Activity.Emit(&types.ActivityEvent{
				Type:      at,
				Timestamp: types.FormatTime(ev.Timestamp),
				Account:   ev.Account,
				TaskID:    ev.TaskID,
				Metadata:  meta,
			})
			if err != nil {
				lg := log.WithComponent("activity")
				lg.Warn().Err(err).
					Str("type", at).Msg("activity persist failed")
			}
		})
	}
}

// subscribeHooks wires the async post-commit side effects. Both are
// fire-and-forget: they log their intent and never fail the parent request.
func (d *Daemon) subscribeHooks() {
	d.Bus.Subscribe(events.TaskCompleted, func(ev events.Event) {
		cfg := d.Config()
		if gh := cfg.GitHub; gh != nil && gh.Enabled && cfg.FeatureSet().GithubIntegration {
			go d.githubHook(ev)
		}
		if n := cfg.Notifications; n != nil && n.Enabled {
			go d.notifyHook(ev)
		}
	})
}

// githubHook would push the accepted branch and open a PR against the
// configured repo. The daemon only records the intent; the bridge side owns
// the actual gh invocation.
func (d *Daemon) githubHook(ev events.Event) {
	gh := d.Config().GitHub
	lg := log.WithComponent("github")
	lg.Info().
		Str("task_id", ev.TaskID).
		Str("repo", gh.Repo).
		Str("remote", gh.Remote).
		Msg("task completed, github hook queued")

	_, err := d.Activity.Emit(&types.ActivityEvent{
		Type:    "github_hook",
		Account: ev.Account,
		TaskID:  ev.TaskID,
		Metadata: map[string]string{
			"repo":   gh.Repo,
			"result": fmt.Sprint(ev.Payload["result"]),
		},
	})
	if err != nil {
		lg := log.WithComponent("github")
		lg.Warn().Err(err).Msg("github hook activity failed")
	}
}

// notifyHook records an OS-notification request for the UI side to deliver.
func (d *Daemon) notifyHook(ev events.Event) {
	result := fmt.Sprint(ev.Payload["result"])
	body := fmt.Sprintf("Task %s %s", shortID(ev.TaskID), result)
	_, err := d.Activity.Emit(&types.ActivityEvent{
		Type:     "notification",
		Account:  ev.Account,
		TaskID:   ev.TaskID,
		Metadata: map[string]string{"body": body},
	})
	if err != nil {
		lg := log.WithComponent("notify")
		lg.Warn().Err(err).Msg("notification activity failed")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return strings.TrimSpace(id)
}
