// Package hyperspace is the client side of a Chubby-style lock service
// session. A session is opened against a replicated master and kept alive
// by periodic keepalives; every keepalive renews the lease and piggybacks
// pending events for the handles the application holds.
//
// # Session health
//
// A session is Connected while its lease is fresh. When the lease lapses
// without a renewal it enters Jeopardy: handles must be treated as
// suspect, but the session may still recover. If no renewal arrives within
// the grace period the session is Expired and every handle is invalidated.
// Close moves the session to Closed without touching the handles.
//
//	sess, err := hyperspace.Open(ctx, hyperspace.Config{
//	    Masters:       []string{"m1:7373", "m2:7373", "m3:7373"},
//	    LeaseInterval: 12 * time.Second,
//	    GracePeriod:   45 * time.Second,
//	}, hyperspace.SessionCallbackFuncs{
//	    OnJeopardy: func() { log.Print("session at risk") },
//	    OnSafe:     func() { log.Print("session recovered") },
//	    OnExpired:  func() { log.Print("session expired") },
//	})
//	if err != nil { log.Fatal(err) }
//	defer sess.Close()
//
// # Handle events
//
// Register a HandleCallback per handle id. Events are delivered in sequence
// order and at most once, even when the master repeats them after a
// failover.
//
//	_ = sess.RegisterHandle(42, hyperspace.HandleCallbackFuncs{
//	    OnEvent: func(ev hyperspace.HandleEvent) { log.Printf("%s seq=%d", ev.Kind, ev.Seq) },
//	})
//
// # Failover
//
// Transport errors never change the session status on their own. The
// session asks its Resolver (by default a rotation over Config.Masters with
// a cooldown for failed masters) for a new master and keeps sending; the
// lease deadlines alone decide between recovery and expiry.
//
// # Telemetry
//
// SetupTelemetry installs a Prometheus exporter for the session metrics and
// optionally an OTLP trace exporter for keepalive spans.
package hyperspace
