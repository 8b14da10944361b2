package domain

// ContactRequest is the body of POST /api/contact.
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// ContactResponse is the backend's acknowledgment of a contact message.
type ContactResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
