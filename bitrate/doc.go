// Package bitrate implements adaptive bitrate control for connected call
// sessions.
//
// A Monitor runs one sampling goroutine per session. Every interval it pulls
// connection statistics from the session's transport handle, classifies the
// link into a quality tier from round-trip time and packet loss (ties broken
// toward the worse tier), and applies the tier's per-stream bitrate caps
// back through the handle. A failed statistics read or cap application is
// logged and skipped for that cycle; it never stops the monitor or the call.
//
// Tier thresholds and caps:
//
//	poor      rtt > 300ms or loss > 5%     32 kbps audio /  500 kbps video
//	fair      rtt > 200ms or loss > 3%     48 kbps audio / 1000 kbps video
//	good      rtt > 100ms or loss > 1%     64 kbps audio / 2000 kbps video
//	excellent otherwise                   128 kbps audio / 3000 kbps video
//
// The video cap is applied only when the session carries video.
package bitrate
