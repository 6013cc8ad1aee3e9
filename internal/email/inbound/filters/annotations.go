package filters

const (
	AnnotationBodyText         = "postmaster.body_text"
	AnnotationPaymentAssertion = "postmaster.payment_assertion"
	AnnotationIgnoreMessage    = "postmaster.ignore_message"
	AnnotationUntrustedSender  = "postmaster.untrusted_sender"
)
