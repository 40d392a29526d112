package httpapi

import (
	"testing"

	"modsy/internal/domain"
)

func TestStateMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStatus]string{
		domain.SessionStatusIdle:      "Segure para falar",
		domain.SessionStatusStarting:  "Preparando o microfone...",
		domain.SessionStatusListening: "Ouvindo...",
		domain.SessionStatusStopping:  "Processando comando...",
	}

	for state, want := range cases {
		t.Run(string(state), func(t *testing.T) {
			t.Parallel()
			if got := stateMessage(state); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := stateMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown state message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeAudioStream: "Falha na captura de áudio",
		domain.ErrorCodeDevice:      "O guarda-roupa não conseguiu girar",
		domain.ErrorCodePermission:  "Permissão do microfone negada",
		domain.ErrorCodeEngineStart: "Reconhecimento de voz indisponível",
		domain.ErrorCodeRecognition: "Erro no reconhecimento de voz",
		domain.ErrorCodeDispatch:    "Falha ao enviar o comando ao guarda-roupa",
		domain.ErrorCodeJournal:     "Falha ao registrar o comando",
	}
	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("other", "custom detail"); got != "custom detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("other", ""); got != "Erro desconhecido" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestIntentMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		result domain.CommandResult
		want   string
	}{
		{domain.CommandResult{}, "Comando não reconhecido"},
		{domain.CommandResult{Intent: domain.IntentFootwear, Recognized: true, Dispatched: true}, "Girando a seção calçado"},
		{domain.CommandResult{Intent: domain.IntentSuperior, Recognized: true}, "Não foi possível girar a seção superior"},
	}
	for _, tc := range cases {
		if got := intentMessage(tc.result); got != tc.want {
			t.Fatalf("intentMessage(%+v) = %q, want %q", tc.result, got, tc.want)
		}
	}
}

func TestDeviceMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.DeviceStatus]string{
		domain.DeviceStatusPending:    "Aguardando o guarda-roupa",
		domain.DeviceStatusInProgress: "Girando a seção inferior",
		domain.DeviceStatusDone:       "Seção inferior pronta",
		domain.DeviceStatusFailed:     "Falha ao girar a seção inferior",
	}
	for status, want := range cases {
		if got := deviceMessage(domain.DeviceCommand{Section: domain.IntentInferior, Status: status}); got != want {
			t.Fatalf("deviceMessage(%s) = %q, want %q", status, got, want)
		}
	}
	if got := deviceMessage(domain.DeviceCommand{Status: "desconhecido"}); got != "" {
		t.Fatalf("expected empty message for unknown status, got %q", got)
	}
}
