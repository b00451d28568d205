package email

const (
	subjectApplicationFmt = "New application from %s"
	subjectCallAgreedFmt  = "%s agreed to a call"
	subjectNoticeFmt      = "Lead %s needs attention"
)
