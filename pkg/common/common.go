package common

import (
	"context"
	"fmt"
	"strings"
)

func Contains[T comparable](elems []T, v T) bool {
	for _, s := range elems {
		if v == s {
			return true
		}
	}

	return false
}

// first match of item in [].
func Index(slice []string, item string) int {
	for k, v := range slice {
		if item == v {
			return k
		}
	}

	return -1
}

func IsContextDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// TypeOf returns the name of the type of the given value, ex: a
// *errors.errorString will return "errors.errorString".
func TypeOf(v interface{}) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}
