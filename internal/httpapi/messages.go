package httpapi

import (
	"modsy/internal/domain"
)

// Client to server message types.
const (
	msgPress      = "press"
	msgRelease    = "release"
	msgRotate     = "rotate"
	msgPermission = "permission"
)

// Server to client message types.
const (
	msgState             = "state"
	msgPartial           = "partial"
	msgIntent            = "intent"
	msgError             = "error"
	msgDevice            = "device"
	msgPermissionRequest = "permission_request"
)

// Error codes the socket adds on top of domain.ErrorCode.
const (
	codeBadRequest  = "bad_request"
	codeNoSession   = "no_session"
	codeUnavailable = "unavailable"
)

type clientMessage struct {
	Type    string `json:"type"`
	Section string `json:"section,omitempty"`
	Granted bool   `json:"granted,omitempty"`
	ID      string `json:"id,omitempty"`
}

type serverMessage struct {
	Type   string                `json:"type"`
	State  domain.SessionStatus  `json:"state,omitempty"`
	Text   string                `json:"text,omitempty"`
	Result *domain.CommandResult `json:"result,omitempty"`
	Device *domain.DeviceCommand `json:"device,omitempty"`
	Code   string                `json:"code,omitempty"`
	Detail string                `json:"detail,omitempty"`

	ID             string `json:"id,omitempty"`
	Title          string `json:"title,omitempty"`
	Message        string `json:"message,omitempty"`
	PositiveButton string `json:"positiveButton,omitempty"`
}

// stateMessage is the status line shown next to the microphone button.
func stateMessage(state domain.SessionStatus) string {
	switch state {
	case domain.SessionStatusIdle:
		return "Segure para falar"
	case domain.SessionStatusStarting:
		return "Preparando o microfone..."
	case domain.SessionStatusListening:
		return "Ouvindo..."
	case domain.SessionStatusStopping:
		return "Processando comando..."
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodePermission:
		return "Permissão do microfone negada"
	case domain.ErrorCodeEngineStart:
		return "Reconhecimento de voz indisponível"
	case domain.ErrorCodeEngineStop:
		return "Falha ao encerrar o microfone"
	case domain.ErrorCodeRecognition:
		return "Erro no reconhecimento de voz"
	case domain.ErrorCodeAudioStream:
		return "Falha na captura de áudio"
	case domain.ErrorCodeRules:
		return "Falha ao corrigir a transcrição"
	case domain.ErrorCodeDispatch:
		return "Falha ao enviar o comando ao guarda-roupa"
	case domain.ErrorCodeJournal:
		return "Falha ao registrar o comando"
	case domain.ErrorCodeDevice:
		return "O guarda-roupa não conseguiu girar"
	default:
		if detail == "" {
			return "Erro desconhecido"
		}
		return detail
	}
}

func intentMessage(result domain.CommandResult) string {
	switch {
	case !result.Recognized:
		return "Comando não reconhecido"
	case result.Dispatched:
		return "Girando a seção " + result.Intent.DisplayName()
	default:
		return "Não foi possível girar a seção " + result.Intent.DisplayName()
	}
}

func deviceMessage(command domain.DeviceCommand) string {
	section := command.Section.DisplayName()
	switch command.Status {
	case domain.DeviceStatusPending:
		return "Aguardando o guarda-roupa"
	case domain.DeviceStatusInProgress:
		return "Girando a seção " + section
	case domain.DeviceStatusDone:
		return "Seção " + section + " pronta"
	case domain.DeviceStatusFailed:
		return "Falha ao girar a seção " + section
	default:
		return ""
	}
}
