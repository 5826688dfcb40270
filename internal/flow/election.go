package flow

import (
	"context"
	"strings"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/spam"
)

// FlowTypeElectionInfo is the guided menu for the cooperative's election process.
const FlowTypeElectionInfo = "election_info"

// Outbound texts for the election-info menu.
const (
	MenuPrompt = "Elija una opción respondiendo con el número:\n" +
		"1. Calendario electoral\n" +
		"2. Cómo votar\n" +
		"3. Candidatos inscritos\n" +
		"4. Hablar con un asesor\n\n" +
		"También puede escribir su pregunta directamente."

	MsgElectionCalendar = "📅 Calendario electoral: la inscripción de candidatos cierra el 15 de marzo, " +
		"la votación de delegados se realiza del 1 al 5 de abril y los resultados se publican el 8 de abril."

	MsgVotingProcedure = "🗳️ Para votar ingrese a la plataforma con su número de cédula, verifique su identidad " +
		"con el código enviado a su celular registrado y seleccione su plancha. El voto es secreto y se confirma en pantalla."

	MsgCandidates = "👥 El listado de candidatos inscritos por zona está publicado en la cartelera de su agencia " +
		"y en la página de la cooperativa, sección Elecciones."

	FollowUpPrompt   = "¿Desea algo más? Responda 1 para volver al menú o 2 para salir."
	MsgInvalidOption = "No reconocí esa opción."
	MsgGoodbye       = "Gracias por comunicarse con la cooperativa. ¡Hasta pronto! 👋"
)

const (
	stepMenu     = "menu"
	stepFollowUp = "follow_up"

	dataKeyLastTopic = "last_topic"
)

func init() {
	def, err := NewDefinition(FlowTypeElectionInfo,
		Step{Name: stepMenu, Prompt: MenuPrompt, Handler: handleMenuStep},
		Step{Name: stepFollowUp, Prompt: FollowUpPrompt, Handler: handleFollowUpStep},
	)
	if err != nil {
		panic(err)
	}
	Register(def)
}

// handleMenuStep interprets the main menu selection.
func handleMenuStep(ctx context.Context, conv *models.Conversation, input string) (StepResult, error) {
	switch strings.TrimSpace(input) {
	case "1":
		return StepResult{
			Message: MsgElectionCalendar + "\n\n" + FollowUpPrompt,
			Next:    stepFollowUp,
			Data:    map[string]string{dataKeyLastTopic: "calendar"},
		}, nil
	case "2":
		return StepResult{
			Message: MsgVotingProcedure + "\n\n" + FollowUpPrompt,
			Next:    stepFollowUp,
			Data:    map[string]string{dataKeyLastTopic: "voting"},
		}, nil
	case "3":
		return StepResult{
			Message: MsgCandidates + "\n\n" + FollowUpPrompt,
			Next:    stepFollowUp,
			Data:    map[string]string{dataKeyLastTopic: "candidates"},
		}, nil
	case "4":
		return StepResult{Escalate: true, EscalateReason: "explicit_request"}, nil
	default:
		if LooksLikeQuestion(input) {
			return StepResult{FreeFormQuestion: true}, nil
		}
		return StepResult{Message: MsgInvalidOption + "\n\n" + MenuPrompt}, nil
	}
}

// handleFollowUpStep interprets the "anything else?" step.
func handleFollowUpStep(ctx context.Context, conv *models.Conversation, input string) (StepResult, error) {
	switch strings.TrimSpace(input) {
	case "1":
		return StepResult{Next: stepMenu}, nil
	case "2":
		return StepResult{Message: MsgGoodbye, Completed: true}, nil
	default:
		if LooksLikeQuestion(input) {
			return StepResult{FreeFormQuestion: true}, nil
		}
		return StepResult{Message: MsgInvalidOption + "\n\n" + FollowUpPrompt}, nil
	}
}

// LooksLikeQuestion reports whether free text mid-menu should be treated as an
// out-of-band question rather than a mistyped option.
func LooksLikeQuestion(input string) bool {
	if strings.Contains(input, "?") || strings.Contains(input, "¿") {
		return true
	}
	return len(strings.Fields(spam.Normalize(input))) >= 3
}
