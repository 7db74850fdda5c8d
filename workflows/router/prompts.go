package router

const routerPrompt = `You need to decide which domain to route the user query to. You have two domains to choose from:
 - records: contains medical records of the patient, such as diagnosis, treatment, and prescriptions.
 - insurance: contains frequently asked questions about insurance policies, claims, and coverage.
Output only the domain name.`

const medicalRecordsPrompt = `You are a helpful medical chatbot who answers questions based on the patient's medical records, such as diagnosis, treatment, and prescriptions.`

const insuranceFAQsPrompt = `You are a helpful medical insurance chatbot who answers frequently asked questions about insurance policies, claims, and coverage.`
