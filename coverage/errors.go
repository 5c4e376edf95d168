// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

import (
	"errors"
	"fmt"
)

// ErrResourceUnavailable is wrapped by every failure to obtain the shared map.
var ErrResourceUnavailable = errors.New("resource unavailable")

// ConfigError reports an invalid map size, n-gram size or sampling ratio.
// It is fatal at startup.
type ConfigError struct {
	Setting string
	Value   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %v: %v", e.Setting, e.Reason)
	}
	return fmt.Sprintf("invalid %v %q: %v", e.Setting, e.Value, e.Reason)
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
