// Package i18n renders notification templates in the recipient's language.
package i18n

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
)

// Template keys used by notifications.
const (
	KeyBookingReceivedAgent    = "booking.received.agent"
	KeyBookingReceivedClient   = "booking.received.client"
	KeyBookingPaymentPending   = "booking.payment_pending"
	KeyBookingAccepted         = "booking.accepted"
	KeyBookingRejected         = "booking.rejected"
	KeyBookingConfirmed        = "booking.confirmed"
	KeyBookingCanceled         = "booking.canceled"
	KeyBookingDiscarded        = "booking.discarded"
	KeyBookingCompleted        = "booking.completed"
	KeyBookingChangeRequested  = "booking.change_requested"
	KeyBookingChangeConfirmed  = "booking.change_confirmed"
	KeyOperationDeparted       = "operation.departed"
	KeyOperationArrived        = "operation.arrived"
	KeyOperationArrivingSoon   = "operation.arriving_soon"
	KeyTrackingWrongNumber     = "tracking.wrong_number"
	KeyTrackingWrongWaybill    = "tracking.wrong_waybill"
	KeySurchargeExpiring       = "tariff.surcharge_expiring"
	KeyFreightRateExpiring     = "tariff.freight_rate_expiring"
	KeyQuoteOfferReceived      = "quote.offer_received"
	KeyTrackingShipmentChanged = "tracking.shipment_changed"
)

var (
	english    = language.English
	portuguese = language.BrazilianPortuguese
	spanish    = language.Spanish
)

var builtin = map[language.Tag]map[string]string{
	english: {
		KeyBookingReceivedAgent:    "New booking request {aceid} received.",
		KeyBookingReceivedClient:   "Booking request {aceid} has been sent.",
		KeyBookingPaymentPending:   "Booking request {aceid} is waiting for payment of {amount} {currency}.",
		KeyBookingAccepted:         "Booking {aceid} was accepted by the agent.",
		KeyBookingRejected:         "Booking request {aceid} was rejected by the agent.",
		KeyBookingConfirmed:        "Booking {aceid} was confirmed.",
		KeyBookingCanceled:         "Operation {aceid} was cancelled. {comment}",
		KeyBookingDiscarded:        "Booking request {aceid} was discarded because it was not paid in time.",
		KeyBookingCompleted:        "Operation {aceid} was completed.",
		KeyBookingChangeRequested:  "The client requested changes to operation {aceid}.",
		KeyBookingChangeConfirmed:  "Changes to operation {aceid} were confirmed.",
		KeyOperationDeparted:       "Shipment {aceid} has departed.",
		KeyOperationArrived:        "Shipment {aceid} has arrived.",
		KeyOperationArrivingSoon:   "Shipment {aceid} is arriving on {date}.",
		KeyTrackingWrongNumber:     "Booking number {booking_number} of operation {aceid} was not recognised by the tracking provider.",
		KeyTrackingWrongWaybill:    "Waybill number {waybill} of operation {aceid} has a wrong format.",
		KeySurchargeExpiring:       "Surcharge for {carrier} at {location} expires on {date}.",
		KeyFreightRateExpiring:     "Freight rate for {carrier} from {origin} to {destination} expires on {date}.",
		KeyQuoteOfferReceived:      "New offer received for your quote from {origin} to {destination}.",
		KeyTrackingShipmentChanged: "Shipment details of operation {aceid} were updated: {changes}.",
	},
	portuguese: {
		KeyBookingReceivedAgent:    "Nova solicitação de reserva {aceid} recebida.",
		KeyBookingReceivedClient:   "A solicitação de reserva {aceid} foi enviada.",
		KeyBookingPaymentPending:   "A solicitação de reserva {aceid} aguarda o pagamento de {amount} {currency}.",
		KeyBookingAccepted:         "A reserva {aceid} foi aceita pelo agente.",
		KeyBookingRejected:         "A solicitação de reserva {aceid} foi rejeitada pelo agente.",
		KeyBookingConfirmed:        "A reserva {aceid} foi confirmada.",
		KeyBookingCanceled:         "A operação {aceid} foi cancelada. {comment}",
		KeyBookingDiscarded:        "A solicitação de reserva {aceid} foi descartada por falta de pagamento.",
		KeyBookingCompleted:        "A operação {aceid} foi concluída.",
		KeyBookingChangeRequested:  "O cliente solicitou alterações na operação {aceid}.",
		KeyBookingChangeConfirmed:  "As alterações na operação {aceid} foram confirmadas.",
		KeyOperationDeparted:       "O embarque {aceid} partiu.",
		KeyOperationArrived:        "O embarque {aceid} chegou.",
		KeyOperationArrivingSoon:   "O embarque {aceid} chega em {date}.",
		KeyTrackingWrongNumber:     "O número de reserva {booking_number} da operação {aceid} não foi reconhecido pelo rastreamento.",
		KeyTrackingWrongWaybill:    "O conhecimento aéreo {waybill} da operação {aceid} tem formato inválido.",
		KeySurchargeExpiring:       "A sobretaxa de {carrier} em {location} expira em {date}.",
		KeyFreightRateExpiring:     "O frete de {carrier} de {origin} para {destination} expira em {date}.",
		KeyQuoteOfferReceived:      "Nova oferta recebida para sua cotação de {origin} para {destination}.",
		KeyTrackingShipmentChanged: "Os detalhes do embarque da operação {aceid} foram atualizados: {changes}.",
	},
	spanish: {
		KeyBookingReceivedAgent:    "Nueva solicitud de reserva {aceid} recibida.",
		KeyBookingReceivedClient:   "La solicitud de reserva {aceid} ha sido enviada.",
		KeyBookingPaymentPending:   "La solicitud de reserva {aceid} espera el pago de {amount} {currency}.",
		KeyBookingAccepted:         "La reserva {aceid} fue aceptada por el agente.",
		KeyBookingRejected:         "La solicitud de reserva {aceid} fue rechazada por el agente.",
		KeyBookingConfirmed:        "La reserva {aceid} fue confirmada.",
		KeyBookingCanceled:         "La operación {aceid} fue cancelada. {comment}",
		KeyBookingDiscarded:        "La solicitud de reserva {aceid} fue descartada por falta de pago.",
		KeyBookingCompleted:        "La operación {aceid} fue completada.",
		KeyBookingChangeRequested:  "El cliente solicitó cambios en la operación {aceid}.",
		KeyBookingChangeConfirmed:  "Los cambios en la operación {aceid} fueron confirmados.",
		KeyOperationDeparted:       "El embarque {aceid} ha partido.",
		KeyOperationArrived:        "El embarque {aceid} ha llegado.",
		KeyOperationArrivingSoon:   "El embarque {aceid} llega el {date}.",
		KeyTrackingWrongNumber:     "El número de reserva {booking_number} de la operación {aceid} no fue reconocido por el rastreo.",
		KeyTrackingWrongWaybill:    "La guía aérea {waybill} de la operación {aceid} tiene un formato incorrecto.",
		KeySurchargeExpiring:       "El recargo de {carrier} en {location} vence el {date}.",
		KeyFreightRateExpiring:     "La tarifa de {carrier} de {origin} a {destination} vence el {date}.",
		KeyQuoteOfferReceived:      "Nueva oferta recibida para su cotización de {origin} a {destination}.",
		KeyTrackingShipmentChanged: "Los detalles del embarque de la operación {aceid} fueron actualizados: {changes}.",
	},
}

// Catalog renders template keys with named {placeholders}.
type Catalog struct {
	matcher  language.Matcher
	tags     []language.Tag
	messages map[language.Tag]map[string]string
	policy   *bluemonday.Policy
}

// NewCatalog returns a catalog with the built-in English, Brazilian Portuguese and Spanish texts.
// English is the fallback language.
func NewCatalog() *Catalog {
	tags := []language.Tag{english, portuguese, spanish}
	return &Catalog{
		matcher:  language.NewMatcher(tags),
		tags:     tags,
		messages: builtin,
		policy:   bluemonday.StrictPolicy(),
	}
}

// Match resolves a user's language preference (e.g. "pt", "pt-BR", "es-AR") to a supported tag.
func (c *Catalog) Match(preference string) language.Tag {
	desired, _, err := language.ParseAcceptLanguage(preference)
	if err != nil || len(desired) == 0 {
		return english
	}
	_, index, _ := c.matcher.Match(desired...)
	return c.tags[index]
}

// Render produces the text for key in the preferred language. Parameter values are stripped of
// markup before substitution. Unknown keys render as the key itself.
func (c *Catalog) Render(preference, key string, params map[string]string) string {
	tag := c.Match(preference)
	text, ok := c.messages[tag][key]
	if !ok {
		text, ok = c.messages[english][key]
	}
	if !ok {
		text = key
	}
	if len(params) == 0 {
		return text
	}
	replacements := make([]string, 0, len(params)*2)
	for name, value := range params {
		replacements = append(replacements, "{"+name+"}", c.Sanitize(value))
	}
	return strings.TrimSpace(strings.NewReplacer(replacements...).Replace(text))
}

// Sanitize strips all markup from value.
func (c *Catalog) Sanitize(value string) string {
	return strings.TrimSpace(c.policy.Sanitize(value))
}
