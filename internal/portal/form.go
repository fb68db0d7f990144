package portal

import (
	"net/url"
	"strconv"
	"time"
)

// Form field keys shared by every portal driver. HTTP portals receive them as
// form names; browser portals map them to CSS selectors.
const (
	FieldAuthority       = "autoridad_id"
	FieldState           = "estado"
	FieldWorkerName      = "solicitante_nombre"
	FieldWorkerCURP      = "solicitante_curp"
	FieldWorkerEmail     = "solicitante_correo"
	FieldWorkerPhone     = "solicitante_telefono"
	FieldEmployerName    = "patron_nombre"
	FieldEmployerAddress = "patron_domicilio"
	FieldIndustry        = "rama_industrial"
	FieldEmploymentStart = "fecha_ingreso"
	FieldTermination     = "fecha_terminacion"
	FieldTerminationType = "tipo_terminacion"
	FieldDailySalary     = "salario_diario"
	FieldModality        = "modalidad"
)

// FormOrder is the order fields are filled in on a browser form.
var FormOrder = []string{
	FieldWorkerName,
	FieldWorkerCURP,
	FieldWorkerEmail,
	FieldWorkerPhone,
	FieldEmployerName,
	FieldEmployerAddress,
	FieldState,
	FieldIndustry,
	FieldEmploymentStart,
	FieldTermination,
	FieldTerminationType,
	FieldDailySalary,
	FieldModality,
}

// FormValues flattens a submission into portal form values. Empty values are omitted.
func FormValues(sub Submission) url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	c := sub.Case
	if sub.Decision != nil {
		set(FieldAuthority, sub.Decision.Authority.ID)
		set(FieldState, sub.Decision.StateCode())
	}
	if c == nil {
		return v
	}
	set(FieldWorkerName, c.WorkerName)
	set(FieldWorkerCURP, c.WorkerCURP)
	set(FieldWorkerEmail, c.WorkerEmail)
	set(FieldWorkerPhone, c.WorkerPhone)
	set(FieldEmployerName, c.EmployerName)
	set(FieldEmployerAddress, c.EmployerAddress)
	set(FieldIndustry, c.Industry())
	if c.EmploymentStart != nil {
		set(FieldEmploymentStart, c.EmploymentStart.Format(time.DateOnly))
	}
	if c.TerminationDate != nil {
		set(FieldTermination, c.TerminationDate.Format(time.DateOnly))
	}
	set(FieldTerminationType, string(c.TerminationType))
	if c.DailySalary > 0 {
		set(FieldDailySalary, strconv.FormatFloat(c.DailySalary, 'f', 2, 64))
	}
	set(FieldModality, string(sub.Modality))
	return v
}
