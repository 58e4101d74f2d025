package utils

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"go.uber.org/zap"
)

// RecoverFn is a function that handles a recovered panic
type RecoverFn func(r interface{}, stack []byte)

// SafeGo executes fn in a goroutine. A panic is passed to onPanic, or logged when onPanic is nil.
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				if logger.Log != nil {
					logger.Log.Error("[panic] Recovered from panic in goroutine",
						zap.Any("panic", r),
						zap.ByteString("stack", stack),
					)
					return
				}
				fmt.Fprintf(os.Stderr, "[PANIC] Recovered from panic in goroutine: %v\n%s\n", r, stack)
			}
		}()
		fn()
	}()
}

// RecoverToError converts a panic inside fn into an error tagged with operation.
// Used where one failing unit of work must not take down a batch.
func RecoverToError(ctx context.Context, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("[panic] Recovered from panic",
				zap.String("operation", operation),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic recovered during %s: %v", operation, r)
		}
	}()
	return fn()
}
