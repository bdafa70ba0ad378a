package availability

// ConsultationDay exposes the consultationDay test helper to the external availability_test package.
var ConsultationDay = consultationDay
