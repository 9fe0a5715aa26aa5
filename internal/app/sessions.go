package app

import (
	"context"

	"roomgraph/internal/common/logging"
	"roomgraph/internal/roomgraph"
	"roomgraph/internal/rules"
	rgruntime "roomgraph/internal/runtime"
	"roomgraph/internal/storage"
)

// restoreSessions restarts the sessions persisted through the API. A
// restarted session gets a new ID, so its record is saved again under the
// new ID and the old record removed. Records that cannot be started stay
// in the store for the next start.
func (app *App) restoreSessions(ctx context.Context) error {
	if app.Store == nil {
		return nil
	}

	records, err := app.Store.List(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, rec := range records {
		logger := app.Logger.WithFields(
			logging.String("session_id", rec.ID),
			logging.String("src_room", rec.Source),
			logging.String("dst_room", rec.Destination),
		)

		rule, err := rules.Parse(rec.Rule)
		if err != nil {
			logger.Error("Stored session has an invalid rule", err, logging.String("rule", rec.Rule))
			continue
		}

		session, err := app.Service.Start(ctx, roomgraph.Request{
			Source:      rec.Source,
			Destination: rec.Destination,
			Rule:        rule,
			Options:     rec.Options,
		})
		if err != nil {
			logger.Error("Failed to restore session", err)
			continue
		}

		info := session.Info()
		if err := app.Store.Save(ctx, &storage.SessionRecord{
			ID:          info.ID,
			Source:      info.Source,
			Destination: info.Destination,
			Rule:        info.Rule,
			Options:     info.Options,
			CreatedAt:   rec.CreatedAt,
		}); err != nil {
			logger.Error("Failed to store restored session", err)
			if err := session.Stop(ctx); err != nil {
				logger.Error("Failed to stop restored session", err, logging.String("session_id", info.ID))
			}
			continue
		}
		if err := app.Store.Delete(ctx, rec.ID); err != nil {
			logger.Warn("Failed to remove superseded session record", logging.Err(err))
		}
		restored++
	}

	if len(records) > 0 {
		app.Logger.Info("Persisted sessions restored",
			logging.Int("restored", restored),
			logging.Int("stored", len(records)),
		)
	}
	return nil
}

// loadRuntime reads the runtime configuration, if one is configured
func loadRuntime(path string) ([]roomgraph.Request, error) {
	if path == "" {
		return nil, nil
	}
	rc, err := rgruntime.Load(path)
	if err != nil {
		return nil, err
	}
	return rc.Sessions()
}

// applyRuntime starts the sessions generated from the runtime
// configuration. They are not persisted; the file is the source of truth.
func (app *App) applyRuntime(ctx context.Context) error {
	reqs, err := loadRuntime(app.Config.RuntimeConfig)
	if err != nil || len(reqs) == 0 {
		return err
	}

	app.Logger.Info("Applying runtime configuration",
		logging.String("path", app.Config.RuntimeConfig),
		logging.Int("sessions", len(reqs)),
	)
	_, err = rgruntime.Apply(ctx, app.Service, reqs, logging.Component("runtime"))
	return err
}
