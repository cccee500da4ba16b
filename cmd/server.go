// Copyright 2022 The dashfeed Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/dashfeed/apis"
	"github.com/alwitt/dashfeed/bridge"
	"github.com/alwitt/dashfeed/common"
	"github.com/alwitt/dashfeed/events"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunFeedServer run the feed server
func RunFeedServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "feed-server",
		"instance":  instance,
	}

	// -------------------------------------------------------------------
	// Build the core components

	feedTP, err := common.GetNewTaskProcessorInstance(
		"event-feed", config.Feed.TaskQueueLen, runTimeContext,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define feed task processor")
		return err
	}
	feed, err := events.DefineEventFeed(feedTP, config.Feed.Capacity)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event feed")
		return err
	}
	if err := feedTP.StartEventLoop(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start feed event loop")
		return err
	}

	registry, err := bridge.DefineConnectionRegistry()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection registry")
		return err
	}
	notifier, err := bridge.DefineFeedNotifier(feed, registry)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define feed notifier")
		return err
	}

	// -------------------------------------------------------------------
	// Build the REST handlers

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	httpConfig := &config.API.HTTPSetting
	feedHandler, err := apis.GetAPIRestEventFeedHandler(feed, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define feed HTTP handler")
		return err
	}
	publishHandler, err := apis.GetAPIRestFeedPublishHandler(notifier, httpConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define publish HTTP handler")
		return err
	}
	bridgeHandler, err := apis.GetAPIRestBridgeHandler(
		localCtxt, registry, config.Bridge, httpConfig, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define bridge HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.API.Endpoints.PathPrefix, nil)

	// Feed query and ingestion
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/feed/event", apis.MethodHandlers{
		http.MethodGet:  feedHandler.ListEventsHandler(),
		http.MethodPost: publishHandler.PublishEventHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/feed/event/read", apis.MethodHandlers{
		http.MethodPost: feedHandler.MarkAllEventsReadHandler(),
	})
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/feed/event/{eventID}/read", apis.MethodHandlers{
			http.MethodPost: feedHandler.MarkEventReadHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/feed/stats", apis.MethodHandlers{
		http.MethodGet: feedHandler.GetStatsHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/feed/sale", apis.MethodHandlers{
		http.MethodPost: publishHandler.PublishSaleHandler(),
	})

	// Websocket bridge
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/bridge/socket", apis.MethodHandlers{
		http.MethodGet: bridgeHandler.OpenSocketHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/alive", apis.MethodHandlers{
		http.MethodGet: feedHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/ready", apis.MethodHandlers{
		http.MethodGet: feedHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(feedHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", httpConfig.Server.ListenOn, httpConfig.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(httpConfig.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(httpConfig.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(httpConfig.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
