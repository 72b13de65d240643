// Copyright 2024 Finatext Ltd.
//
//    Licensed under the Apache License, Version 2.0 (the "License"); you may
//    not use this file except in compliance with the License. You may obtain
//    a copy of the License at
//
//         http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
//    WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
//    License for the specific language governing permissions and limitations
//    under the License.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

var shutdownSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
}

// serveHTTP runs router until ctx is canceled, then drains in-flight
// requests for up to shutdownTimeout. In-flight job dispatches keep
// running through the drain.
func serveHTTP(ctx context.Context, router *mux.Router, bind string, port int, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler: router,
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bind, port))
	if err != nil {
		return errors.Wrap(err, "creating listener")
	}

	go func() {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			slog.With(slog.Any("error", err)).ErrorContext(ctx, "serving HTTP")
		}
	}()
	slog.InfoContext(ctx, "listening", "address", listener.Addr().String())

	<-ctx.Done()
	slog.InfoContext(ctx, "shutting down", "timeout", shutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful server shutdown failed")
	}
	return nil
}
