package pipeline

// Fixed outbound texts. Every automated reply outside a guided flow comes from
// this list; answer-engine text is the only generated content.
const (
	// MsgGreeting is the unconditional first-contact reply.
	MsgGreeting = "¡Hola! Soy el asistente virtual de la cooperativa para el proceso de elecciones. " +
		"Estoy aquí para resolver sus dudas sobre el calendario electoral, el procedimiento de votación y los candidatos."

	// MsgConsentPrompt is the second-message data-handling prompt.
	MsgConsentPrompt = "Antes de continuar: sus mensajes serán registrados para mejorar la atención durante el proceso electoral. " +
		"¿Autoriza el tratamiento de sus datos? Responda \"sí\" para aceptar. " +
		"En cualquier caso podrá seguir usando este canal."

	// MsgConsentAccepted confirms acceptance and opens normal service.
	MsgConsentAccepted = "¡Gracias! Su autorización quedó registrada. " +
		"Escriba su pregunta o envíe \"menú\" para ver las opciones disponibles."

	// MsgOutOfHours is sent at most once per day outside service hours.
	MsgOutOfHours = "Gracias por escribirnos. En este momento estamos fuera del horario de atención. " +
		"Su mensaje quedó registrado y un asesor le responderá en el próximo horario hábil."

	// MsgEscalation is the fixed human hand-off reply.
	MsgEscalation = "Entiendo, voy a remitir su caso. Un asesor humano le ayudará en breve. " +
		"Por favor espere su respuesta por este mismo canal."
)

// Affirmative consent answers, compared against normalized input.
var consentAcceptWords = []string{
	"si", "sí", "acepto", "autorizo", "ok", "de acuerdo", "claro", "dale", "listo",
}
