package fetch

import "errors"

// ErrNoSource is returned when the oracle says we are offline and the
// store has nothing for the key. It is the only error the coordinator
// synthesizes itself; fetcher errors always surface verbatim. Callers can
// special-case it with errors.Is.
var ErrNoSource = errors.New("no network connection and no cached data available")

// ErrUnknownStrategy is returned for a strategy name the coordinator does
// not implement.
var ErrUnknownStrategy = errors.New("unknown fetch strategy")

// ErrUnknownProfile is returned by DoProfile for an unconfigured tag.
var ErrUnknownProfile = errors.New("unknown fetch profile")
