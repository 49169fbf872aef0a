package utils

import (
	"go.uber.org/zap"
)

var Logger *zap.Logger

// InitLogger builds the process-wide structured logger. JSON to stdout so
// log aggregation can pick it up unchanged.
func InitLogger() {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}

	var err error
	Logger, err = config.Build()
	if err != nil {
		panic(err)
	}
}
