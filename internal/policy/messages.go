package policy

import "strings"

// Message template keys.
const (
	MsgWelcome            = "welcome_message"
	MsgPayButton          = "pay_button_text"
	MsgPaymentUnavailable = "payment_unavailable"
	MsgPaymentPending     = "payment_pending"
	MsgAlreadyRegistered  = "already_registered"
	MsgNotRegistered      = "not_registered"
	MsgNotPaid            = "not_payed"
	MsgStepSent           = "step_sent"
	MsgScriptCompleted    = "script_completed"
	MsgNextStepTimeout    = "next_step_timeout"
	MsgStepSendError      = "step_send_error"
	MsgStepInvite         = "step_invite"
	MsgNextStepButton     = "next_step_button"
	MsgOnMessage          = "on_message"
	MsgPaymentSuccessful  = "payment_successful"
	MsgPaymentCanceled    = "payment_canceled"
	MsgLoginSuccessful    = "login_successful"
	MsgNotAdmin           = "not_admin"
	MsgLogoutSuccessful   = "logout_successful"
	MsgProgressReset      = "progress_reset"
	MsgDataDeleted        = "data_deleted"
	MsgUploadMode         = "upload_mode"
	MsgAdminMenu          = "admin_menu"
	MsgStats              = "stats"
)

var defaultMessages = map[string]string{
	MsgWelcome:            "Welcome! Lessons will arrive here step by step.",
	MsgPayButton:          "Pay",
	MsgPaymentUnavailable: "Payments are temporarily unavailable. Please try /start again later.",
	MsgPaymentPending:     "Your payment is still being processed. You will get a message once it is confirmed.",
	MsgAlreadyRegistered:  "Welcome back! You are already registered.",
	MsgNotRegistered:      "I can't find you yet. Send /start to register.",
	MsgNotPaid:            "You don't have access yet. Send /start to get a payment link.",
	MsgStepSent:           "The next lesson is not available yet. You will get a reminder.",
	MsgScriptCompleted:    "You have completed the whole course. Congratulations!",
	MsgNextStepTimeout:    "The next lesson will be available at {time}.",
	MsgStepSendError:      "Some content of lesson {step_number} could not be delivered. Please try again.",
	MsgStepInvite:         "Lesson {step_number} is available: {title}!\n\n{description}",
	MsgNextStepButton:     "Get the next lesson",
	MsgOnMessage:          "This bot can't answer messages. If something went wrong, contact {support_contact}.",
	MsgPaymentSuccessful:  "Payment received. Your first lesson is on its way.",
	MsgPaymentCanceled:    "The payment was canceled. Send /start to try again.",
	MsgLoginSuccessful:    "Admin mode enabled.",
	MsgNotAdmin:           "You are not an admin.",
	MsgLogoutSuccessful:   "You have been logged out from admin mode.",
	MsgProgressReset:      "Your progress has been reset.",
	MsgDataDeleted:        "Your data has been deleted.",
	MsgUploadMode:         "Upload mode {state}.",
	MsgAdminMenu:          "Select a step:",
	MsgStats:              "Users: {users}\nPaid: {paid}\nPending payments: {pending}\nCompleted: {completed}\nAdmins: {admins}",
}

// Messages holds template overrides keyed by template name. Missing keys fall
// back to built-in defaults.
type Messages map[string]string

// Template returns the raw template for key.
func (m Messages) Template(key string) string {
	if value, ok := m[key]; ok && strings.TrimSpace(value) != "" {
		return value
	}
	return defaultMessages[key]
}

// Render substitutes {name} placeholders in the template for key.
func (m Messages) Render(key string, vars map[string]string) string {
	tmpl := m.Template(key)
	if len(vars) == 0 {
		return tmpl
	}

	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
