package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyMapping  = "mapping"
	KeyRemote   = "remote"
	KeyRevision = "revision"
	KeySHA      = "sha"
	KeyBranch   = "branch"
	KeyPath     = "path"
	KeyPatch    = "patch"
	KeyScanType = "scan_type"
	KeyCount    = "count"
	KeyError    = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Mapping(name string) slog.Attr { return slog.String(KeyMapping, name) }
func Remote(uri string) slog.Attr   { return slog.String(KeyRemote, uri) }
func Revision(rev string) slog.Attr { return slog.String(KeyRevision, rev) }
func SHA(sha string) slog.Attr      { return slog.String(KeySHA, sha) }
func Branch(name string) slog.Attr  { return slog.String(KeyBranch, name) }
func Path(path string) slog.Attr    { return slog.String(KeyPath, path) }
func Patch(file string) slog.Attr   { return slog.String(KeyPatch, file) }
func ScanType(t string) slog.Attr   { return slog.String(KeyScanType, t) }
func Count(n int) slog.Attr         { return slog.Int(KeyCount, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// ShortSHA trims a full commit SHA for log readability; shorter values pass through.
func ShortSHA(sha string) slog.Attr {
	if len(sha) > 8 {
		sha = sha[:8]
	}
	return slog.String(KeySHA, sha)
}
