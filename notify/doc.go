// Package notify publishes QuailDB registry changes to an MQTT broker.
//
// A Feed is a db.Observer. Register it on an engine and every statement that
// changed the registry is published as JSON on a topic such as
// quaildb/shop/users/insert:
//
//	feed, err := notify.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer feed.Close()
//	engine.Observe(feed)
//
// The feed also keeps <prefix>/status retained as "online" or "offline".
package notify
