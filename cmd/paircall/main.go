package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/adapter/driven/media/pion"
	"github.com/paircall/paircall/internal/adapter/driven/recognizer"
	"github.com/paircall/paircall/internal/adapter/driven/translate"
	"github.com/paircall/paircall/internal/adapter/driving/console"
	"github.com/paircall/paircall/internal/adapter/driving/httpapi"
	"github.com/paircall/paircall/internal/config"
	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
	"github.com/paircall/paircall/internal/core/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	w := zerolog.ConsoleWriter{Out: os.Stderr}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	l = l.Level(level)
	zlog.Logger = l

	transport := pion.NewTransport()
	media := pion.NewRTPMediaSource(pion.RTPSourceConfig{
		AudioAddr: cfg.AudioRTPAddr,
		VideoAddr: cfg.VideoRTPAddr,
	})

	call := service.NewCallService(transport, media, service.CallConfig{
		ICEServerURLs:    cfg.ICEServerURLs,
		GatheringTimeout: cfg.GatheringTimeout,
	})
	captions := service.NewCaptionService(newRecognizer(cfg), call, service.CaptionConfig{
		Language: cfg.CaptureLanguage,
	})
	translations := service.NewTranslationService(newTranslator(cfg), service.TranslationConfig{
		TargetLanguage: cfg.TargetLanguage,
		DebounceWindow: cfg.DebounceWindow,
	})

	cons := console.New(call, captions, translations, os.Stdin, os.Stdout)

	call.OnPhaseChange(func(phase domain.CallPhase) {
		captions.HandlePhase(phase)
		cons.PrintPhase(phase)
	})
	call.OnRemoteCaption(func(msg domain.CaptionMessage) {
		translations.HandleCaption(msg)
		cons.PrintRemoteCaption(msg)
	})
	call.OnWarning(cons.PrintWarning)
	captions.OnLocalCaption(cons.PrintLocalCaption)
	translations.OnTranslation(cons.PrintTranslation)

	h := httpapi.NewHandler(call, captions, translations)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: h.NewRouter(),
	}
	go func() {
		l.Info().Str("addr", cfg.HTTPAddr).Msg("control API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("control API failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		if err := cons.Run(ctx); err != nil && err != context.Canceled {
			l.Error().Err(err).Msg("console stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		l.Info().Msg("shutting down")
	case <-consoleDone:
	}
	cancel()
	call.HangUp()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("control API forced to shut down")
	}
	l.Info().Msg("bye")
}

func newRecognizer(cfg config.Config) port.Recognizer {
	if cfg.STTURL == "scripted" {
		return recognizer.NewScripted(nil)
	}
	return recognizer.NewWS(recognizer.WSConfig{URL: cfg.STTURL})
}

func newTranslator(cfg config.Config) port.Translator {
	if cfg.TranslateURL == "" {
		return translate.NewStub(nil)
	}
	return translate.NewHTTP(translate.HTTPConfig{
		URL:    cfg.TranslateURL,
		APIKey: cfg.TranslateAPIKey,
	})
}
