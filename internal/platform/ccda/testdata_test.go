package ccda

const sampleCCD = `<?xml version="1.0" encoding="UTF-8"?>
<ClinicalDocument xmlns="urn:hl7-org:v3" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <id root="2.16.840.1.113883.19.5" extension="doc-1"/>
  <code code="34133-9" codeSystem="2.16.840.1.113883.6.1" displayName="Summarization of Episode Note"/>
  <title>Continuity of Care Document</title>
  <effectiveTime value="20240315103000-0500"/>
  <confidentialityCode code="N" codeSystem="2.16.840.1.113883.5.25" displayName="Normal"/>
  <languageCode code="en-US"/>
  <recordTarget>
    <patientRole>
      <id root="2.16.840.1.113883.19.5" extension="patient-123"/>
      <id nullFlavor="UNK"/>
      <addr use="HP"><streetAddressLine>1 Main St</streetAddressLine><city>Springfield</city><state>IL</state><postalCode>62701</postalCode><country>US</country></addr>
      <telecom use="HP" value="tel:+1-555-0100"/>
      <patient>
        <name use="P"><given>Johnny</given><family>Doe</family></name>
        <name use="L"><given>John</given><given>Q</given><family>Doe</family><suffix>Jr</suffix></name>
        <administrativeGenderCode code="M" codeSystem="2.16.840.1.113883.5.1" displayName="Male"/>
        <birthTime value="19800115"/>
      </patient>
    </patientRole>
  </recordTarget>
  <author>
    <time value="20240315"/>
    <assignedAuthor>
      <id root="2.16.840.1.113883.4.6" extension="999"/>
      <assignedPerson><name><prefix>Dr.</prefix><given>Ann</given><family>Smith</family></name></assignedPerson>
      <representedOrganization><name>Good Health Clinic</name></representedOrganization>
    </assignedAuthor>
  </author>
  <author>
    <assignedAuthor>
      <assignedAuthoringDevice><manufacturerModelName>Acme</manufacturerModelName><softwareName>EHR 9</softwareName></assignedAuthoringDevice>
    </assignedAuthor>
  </author>
  <custodian><assignedCustodian><representedCustodianOrganization><name>Good Health Clinic</name></representedCustodianOrganization></assignedCustodian></custodian>
  <legalAuthenticator>
    <time value="20240316"/>
    <assignedEntity><assignedPerson><name><given>Ann</given><family>Smith</family></name></assignedPerson></assignedEntity>
  </legalAuthenticator>
  <documentationOf><serviceEvent classCode="PCPR"><effectiveTime><low value="20240101"/><high value="20240315"/></effectiveTime></serviceEvent></documentationOf>
  <componentOf>
    <encompassingEncounter>
      <code code="AMB" displayName="Ambulatory"/>
      <effectiveTime value="20240315"/>
      <location><healthCareFacility><location><name>Room 4</name></location></healthCareFacility></location>
    </encompassingEncounter>
  </componentOf>
  <component>
    <structuredBody>
      <component>
        <section>
          <code code="48765-2" displayName="Allergies"/>
          <title>Allergies</title>
          <text><table border="1"><thead><tr><th>Substance</th></tr></thead><tbody><tr><td ID="a1">Penicillin &amp; co</td></tr></tbody></table></text>
        </section>
      </component>
      <component>
        <section>
          <title>Plan</title>
          <text><paragraph>Follow up <content styleCode="Bold">in 2 weeks</content>.<footnoteRef IDREF="fn1"/></paragraph><footnote ID="fn1">per guideline</footnote></text>
          <component>
            <section>
              <title>Diet</title>
              <text><list listType="ordered"><item>Low salt</item></list></text>
            </section>
          </component>
        </section>
      </component>
    </structuredBody>
  </component>
</ClinicalDocument>`
